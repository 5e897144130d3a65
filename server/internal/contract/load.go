package contract

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/stirosario/sti-ai-chat-sub007/server/internal/model"
)

// fileTable 是 stages.yaml 的文件模型。阶段用列表承载以保留展示顺序。
type fileTable struct {
	Version string            `yaml:"version"`
	Tokens  map[string]string `yaml:"tokens"`
	Stages  []fileEntry       `yaml:"stages"`
}

type fileEntry struct {
	Stage         string   `yaml:"stage"`
	Phase         string   `yaml:"phase"`
	Deterministic bool     `yaml:"deterministic"`
	FreeText      bool     `yaml:"freeText"`
	MaxOptions    int      `yaml:"maxOptions"`
	Tokens        []string `yaml:"tokens"`
	Defaults      []string `yaml:"defaults"`
}

// Load 从 path 读取阶段契约表；path 为空时返回内置表。
// 文件是整表替换而非增量合并，缺阶段会在构造校验时直接报错。
func Load(path string) (*Table, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read stage table: %w", err)
	}
	var ft fileTable
	if err := yaml.Unmarshal(data, &ft); err != nil {
		return nil, fmt.Errorf("parse stage table: %w", err)
	}

	entries := make([]*Entry, 0, len(ft.Stages))
	for _, fe := range ft.Stages {
		entries = append(entries, &Entry{
			Stage:           model.Stage(fe.Stage),
			Phase:           Phase(fe.Phase),
			IsDeterministic: fe.Deterministic,
			AllowsFreeText:  fe.FreeText,
			AllowsOptions:   len(fe.Tokens) > 0,
			MaxOptions:      fe.MaxOptions,
			AllowedTokens:   fe.Tokens,
			DefaultTokens:   fe.Defaults,
		})
	}
	tokens := make(map[string]Phase, len(ft.Tokens))
	for tok, p := range ft.Tokens {
		tokens[tok] = Phase(p)
	}
	return New(ft.Version, entries, tokens)
}
