package config

import (
	"bytes"
	"fmt"
	"os"

	"Pixmux/core/compositor"
	"Pixmux/core/transport"
	"Pixmux/model"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Show 演出文件：画布、片段库和各引擎的编排
type Show struct {
	Canvas  model.Canvas  `yaml:"canvas"`
	FPS     int           `yaml:"fps"` // 0 时使用 ENGINE_FPS
	Clips   []*model.Clip `yaml:"clips"`
	Engines []EngineSpec  `yaml:"engines"`
}

// EngineSpec 单个引擎的配置
type EngineSpec struct {
	Name         string       `yaml:"name"`
	Role         string       `yaml:"role"`   // standalone / master / slave
	Master       string       `yaml:"master"` // 从机跟随的主机名
	Autoplay     bool         `yaml:"autoplay"`
	Output       bool         `yaml:"output"` // 是否接入 Art-Net 输出
	Playlist     []string     `yaml:"playlist"`
	PlaybackMode string       `yaml:"playback_mode"`
	Preferences  *PrefsSpec   `yaml:"preferences"`
	Layers       []LayerSpec  `yaml:"layers"`  // 叠加在底层片段之上的图层
	Effects      []EffectSpec `yaml:"effects"` // 全局效果
}

// Prefs 传输偏好，未配置时为默认值
func (e EngineSpec) Prefs() transport.Preferences {
	if e.Preferences == nil {
		return transport.DefaultPreferences()
	}
	return transport.Preferences(*e.Preferences)
}

// PrefsSpec 演出文件中的传输偏好，未填写的速度为 1
type PrefsSpec transport.Preferences

func (p *PrefsSpec) UnmarshalYAML(node *yaml.Node) error {
	type raw transport.Preferences
	v := raw(transport.DefaultPreferences())
	if err := node.Decode(&v); err != nil {
		return err
	}
	*p = PrefsSpec(v)
	return nil
}

// LayerSpec 叠加图层
type LayerSpec struct {
	Clip      string       `yaml:"clip"`
	BlendMode string       `yaml:"blend_mode"`
	Opacity   *float64     `yaml:"opacity"`
	Enabled   *bool        `yaml:"enabled"`
	Effects   []EffectSpec `yaml:"effects"`
}

// EffectSpec 效果插件与参数
type EffectSpec struct {
	Type   string                 `yaml:"type"`
	Params map[string]interface{} `yaml:"params"`
}

// Settings 图层设置，未填写的透明度和开关取默认值
func (l LayerSpec) Settings() (compositor.LayerSettings, error) {
	mode := compositor.BlendNormal
	if l.BlendMode != "" {
		m, err := compositor.ParseBlendMode(l.BlendMode)
		if err != nil {
			return compositor.LayerSettings{}, err
		}
		mode = m
	}
	s := compositor.LayerSettings{BlendMode: mode, Opacity: 1, Enabled: true}
	if l.Opacity != nil {
		s.Opacity = *l.Opacity
	}
	if l.Enabled != nil {
		s.Enabled = *l.Enabled
	}
	return s, nil
}

// LoadShow 读取并校验演出文件
func LoadShow(path string) (*Show, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取演出文件失败: %w", err)
	}
	return ParseShow(data)
}

// ParseShow 解析演出 YAML，未知字段视为错误
func ParseShow(data []byte) (*Show, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var show Show
	if err := dec.Decode(&show); err != nil {
		return nil, fmt.Errorf("解析演出文件失败: %w", err)
	}
	for _, clip := range show.Clips {
		if clip != nil && clip.ID == uuid.Nil {
			clip.ID = uuid.New()
		}
	}
	if err := show.Validate(); err != nil {
		return nil, err
	}
	return &show, nil
}

// Clip 按名称查找片段
func (s *Show) Clip(name string) *model.Clip {
	for _, c := range s.Clips {
		if c != nil && c.Name == name {
			return c
		}
	}
	return nil
}

// Playlist 引擎播放列表对应的片段
func (s *Show) Playlist(spec EngineSpec) []*model.Clip {
	clips := make([]*model.Clip, 0, len(spec.Playlist))
	for _, name := range spec.Playlist {
		if c := s.Clip(name); c != nil {
			clips = append(clips, c)
		}
	}
	return clips
}

// Validate 校验引用关系和枚举值
func (s *Show) Validate() error {
	if !s.Canvas.Valid() {
		return &ValidationError{Field: "canvas", Reason: fmt.Sprintf("%dx%d 无效", s.Canvas.Width, s.Canvas.Height)}
	}
	names := make(map[string]bool, len(s.Clips))
	for i, c := range s.Clips {
		if c == nil || c.Name == "" {
			return &ValidationError{Field: fmt.Sprintf("clips[%d]", i), Reason: "缺少 name"}
		}
		if names[c.Name] {
			return &ValidationError{Field: "clips", Reason: fmt.Sprintf("片段 %s 重复", c.Name)}
		}
		names[c.Name] = true
	}
	if len(s.Engines) == 0 {
		return &ValidationError{Field: "engines", Reason: "至少需要一个引擎"}
	}

	roles := make(map[string]transport.Role, len(s.Engines))
	for _, e := range s.Engines {
		field := "engines." + e.Name
		if e.Name == "" {
			return &ValidationError{Field: "engines", Reason: "缺少 name"}
		}
		if _, dup := roles[e.Name]; dup {
			return &ValidationError{Field: field, Reason: "引擎名重复"}
		}
		role := transport.RoleStandalone
		if e.Role != "" {
			r, err := transport.ParseRole(e.Role)
			if err != nil {
				return invalid(field+".role", err)
			}
			role = r
		}
		roles[e.Name] = role

		if e.PlaybackMode != "" {
			if _, err := transport.ParseMode(e.PlaybackMode); err != nil {
				return invalid(field+".playback_mode", err)
			}
		}
		if e.Prefs().Speed < 0 {
			return &ValidationError{Field: field + ".preferences.speed", Reason: "不能为负数"}
		}
		for _, name := range e.Playlist {
			if !names[name] {
				return &ValidationError{Field: field + ".playlist", Reason: fmt.Sprintf("片段 %s 不存在", name)}
			}
		}
		for i, l := range e.Layers {
			if !names[l.Clip] {
				return &ValidationError{Field: fmt.Sprintf("%s.layers[%d]", field, i), Reason: fmt.Sprintf("片段 %s 不存在", l.Clip)}
			}
			if _, err := l.Settings(); err != nil {
				return invalid(fmt.Sprintf("%s.layers[%d]", field, i), err)
			}
		}
	}

	for _, e := range s.Engines {
		if roles[e.Name] != transport.RoleSlave {
			continue
		}
		field := "engines." + e.Name + ".master"
		masterRole, ok := roles[e.Master]
		if !ok {
			return &ValidationError{Field: field, Reason: fmt.Sprintf("主机 %q 不存在", e.Master)}
		}
		if masterRole != transport.RoleMaster {
			return &ValidationError{Field: field, Reason: fmt.Sprintf("%s 不是主机", e.Master)}
		}
	}
	return nil
}
