package stage

import (
	"strings"
	"testing"

	"github.com/stirosario/sti-ai-chat-sub007/server/internal/contract"
)

// 验证未知语言回退到默认语言，未知键回退到默认语言的值。
func TestCatalogFallsBackToDefaultLocale(t *testing.T) {
	cat := NewCatalog(LocaleESAR)

	if got, want := cat.Reply("fr", msgAskNeed), replies[LocaleESAR][msgAskNeed]; got != want {
		t.Errorf("Reply(fr) = %q, want es-AR fallback %q", got, want)
	}
	if got := cat.Label("pt-BR", contract.TokenReopen); got != labels[LocaleESAR][contract.TokenReopen] {
		t.Errorf("Label(pt-BR) = %q, want es-AR fallback", got)
	}
}

// 验证未知令牌以令牌本身作标签，保证选项永远有可见文本。
func TestCatalogUnknownTokenKeepsToken(t *testing.T) {
	cat := NewCatalog(LocaleESAR)
	if got := cat.Label(LocaleEN, "BTN_NOT_A_TOKEN"); got != "BTN_NOT_A_TOKEN" {
		t.Errorf("Label = %q, want token itself", got)
	}
}

// 验证选项构造保序且逐个带本地化标签。
func TestCatalogOptionsKeepOrder(t *testing.T) {
	cat := NewCatalog(LocaleESAR)
	tokens := []string{contract.TokenTestsDone, contract.TokenTestsFail, contract.TokenSolved}

	opts := cat.Options(LocaleEN, tokens)
	if len(opts) != len(tokens) {
		t.Fatalf("options = %d, want %d", len(opts), len(tokens))
	}
	for i, o := range opts {
		if o.Token != tokens[i] {
			t.Errorf("option %d token = %q, want %q", i, o.Token, tokens[i])
		}
		if o.Label == "" || o.Label == o.Token {
			t.Errorf("option %d label missing for %q", i, o.Token)
		}
	}
}

// 验证三种语言的文案目录键集合一致，不会出现某语言缺键。
func TestCatalogLocalesComplete(t *testing.T) {
	base := replies[LocaleESAR]
	for _, loc := range []string{LocaleESES, LocaleEN} {
		for key := range base {
			if _, ok := replies[loc][key]; !ok {
				t.Errorf("locale %s missing reply key %q", loc, key)
			}
		}
		if len(replies[loc]) != len(base) {
			t.Errorf("locale %s has %d keys, want %d", loc, len(replies[loc]), len(base))
		}
	}

	baseLabels := labels[LocaleESAR]
	for _, loc := range []string{LocaleESES, LocaleEN} {
		for token := range baseLabels {
			if _, ok := labels[loc][token]; !ok {
				t.Errorf("locale %s missing label for %q", loc, token)
			}
		}
	}
}

// 验证每个带占位符的文案在所有语言里占位符个数一致。
func TestCatalogPlaceholderParity(t *testing.T) {
	for key := range replies[LocaleESAR] {
		want := strings.Count(replies[LocaleESAR][key], "%s")
		for _, loc := range []string{LocaleESES, LocaleEN} {
			if got := strings.Count(replies[loc][key], "%s"); got != want {
				t.Errorf("key %q: locale %s has %d placeholders, es-AR has %d", key, loc, got, want)
			}
		}
	}
}
