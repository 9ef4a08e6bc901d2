package pixelmap

import (
	"Pixmux/model"
)

// ReorderSamples 按置换表重排一个缓冲中的所有像素
// 每个像素 len(perm) 个采样，每个采样 bytesPerSample 字节；输出采样 i 取输入采样 perm[i]
// dst 与 src 长度必须相同且不能重叠
func ReorderSamples(dst, src []byte, perm []int, bytesPerSample int) {
	channels := len(perm)
	if channels == 0 || bytesPerSample <= 0 {
		return
	}
	stride := channels * bytesPerSample
	pixels := len(src) / stride
	for p := 0; p < pixels; p++ {
		base := p * stride
		for i, from := range perm {
			d := base + i*bytesPerSample
			s := base + from*bytesPerSample
			copy(dst[d:d+bytesPerSample], src[s:s+bytesPerSample])
		}
	}
}

// Reorder 规范 R,G,B[,W] 顺序 -> 物理通道顺序
func Reorder(src []byte, cfg model.UniverseConfig) []byte {
	dst := make([]byte, len(src))
	ReorderSamples(dst, src, cfg.ChannelOrder.Permutation(), cfg.BytesPerSample())
	return dst
}

// Restore 物理通道顺序 -> 规范顺序，Reorder 的逆操作
func Restore(src []byte, cfg model.UniverseConfig) []byte {
	dst := make([]byte, len(src))
	ReorderSamples(dst, src, cfg.ChannelOrder.InversePermutation(), cfg.BytesPerSample())
	return dst
}
