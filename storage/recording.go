package storage

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"

	"Pixmux/core/engine"
	"Pixmux/model"
)

// recordLine 录制文件中的一行
type recordLine struct {
	Index    uint64  `json:"index"`
	Position float64 `json:"position"`
	Width    int     `json:"width"`
	Height   int     `json:"height"`
	Pix      []byte  `json:"pix"`
}

// EncodeRecording 每帧一行 JSON，像素为 base64
func EncodeRecording(w io.Writer, frames []engine.RecordedFrame) error {
	enc := json.NewEncoder(w)
	for _, f := range frames {
		if f.Frame == nil {
			continue
		}
		line := recordLine{
			Index:    f.Index,
			Position: f.Position,
			Width:    f.Frame.Width,
			Height:   f.Frame.Height,
			Pix:      f.Frame.Pix,
		}
		if err := enc.Encode(&line); err != nil {
			return fmt.Errorf("编码录制帧 %d 失败: %w", f.Index, err)
		}
	}
	return nil
}

// DecodeRecording 读取 EncodeRecording 写出的内容
func DecodeRecording(r io.Reader) ([]engine.RecordedFrame, error) {
	dec := json.NewDecoder(bufio.NewReader(r))
	var out []engine.RecordedFrame
	for {
		var line recordLine
		err := dec.Decode(&line)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("解析录制文件失败: %w", err)
		}
		if len(line.Pix) != line.Width*line.Height*model.BytesPerPixel {
			return nil, fmt.Errorf("录制帧 %d 尺寸不匹配", line.Index)
		}
		out = append(out, engine.RecordedFrame{
			Index:    line.Index,
			Position: line.Position,
			Frame:    &model.Frame{Width: line.Width, Height: line.Height, Pix: line.Pix},
		})
	}
}
