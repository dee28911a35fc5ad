// Package i18n serves the bot's localized texts. Each YAML file under the
// locale root holds one or more top-level language sections whose nested
// keys are addressed with dots, e.g. "flow.choose_city".
package i18n

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

const fallbackLang = "fa"

//go:embed locales/*.yaml
var embedded embed.FS

// Translator resolves dotted keys for one language.
type Translator interface {
	T(key string) string
	Lang() string
}

type dict map[string]string

// Manager holds every loaded language.
type Manager struct {
	dicts       map[string]dict
	defaultLang string
}

// Load reads the locales compiled into the binary.
func Load(defaultLang string) (*Manager, error) {
	return LoadFS(embedded, "locales", defaultLang)
}

// LoadFS reads every .yaml/.yml file directly under root. Later files
// override keys of earlier ones in lexical file order.
func LoadFS(fsys fs.FS, root, defaultLang string) (*Manager, error) {
	if defaultLang == "" {
		defaultLang = fallbackLang
	}

	files, err := fs.Glob(fsys, path.Join(root, "*.y*ml"))
	if err != nil {
		return nil, fmt.Errorf("i18n: list %s: %w", root, err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("i18n: no locale files in %s", root)
	}
	sort.Strings(files)

	m := &Manager{dicts: make(map[string]dict), defaultLang: defaultLang}
	for _, name := range files {
		if err := m.merge(fsys, name); err != nil {
			return nil, err
		}
	}
	if _, ok := m.dicts[defaultLang]; !ok {
		return nil, fmt.Errorf("i18n: default language %q is missing", defaultLang)
	}
	return m, nil
}

func (m *Manager) merge(fsys fs.FS, name string) error {
	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		return fmt.Errorf("i18n: read %s: %w", name, err)
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("i18n: parse %s: %w", name, err)
	}
	if len(doc.Content) == 0 {
		return nil
	}
	top := doc.Content[0]
	if top.Kind != yaml.MappingNode {
		return fmt.Errorf("i18n: %s: top level must map languages to texts", name)
	}

	for i := 0; i+1 < len(top.Content); i += 2 {
		lang := normalize(top.Content[i].Value)
		if lang == "" {
			continue
		}
		d := m.dicts[lang]
		if d == nil {
			d = make(dict)
			m.dicts[lang] = d
		}
		collect(top.Content[i+1], "", d)
	}
	return nil
}

// collect stores every scalar under node in d, keyed by its dotted path.
func collect(node *yaml.Node, prefix string, d dict) {
	switch node.Kind {
	case yaml.ScalarNode:
		if prefix != "" {
			d[prefix] = node.Value
		}
	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			k := node.Content[i].Value
			if k == "" {
				continue
			}
			if prefix != "" {
				k = prefix + "." + k
			}
			collect(node.Content[i+1], k, d)
		}
	}
}

// Translator picks lang when loaded and the default language otherwise.
func (m *Manager) Translator(lang string) Translator {
	if m == nil {
		return translator{}
	}
	lang = normalize(lang)
	if _, ok := m.dicts[lang]; !ok {
		lang = m.defaultLang
	}
	return translator{lang: lang, primary: m.dicts[lang], fallback: m.dicts[m.defaultLang]}
}

// Languages lists the loaded language codes in order.
func (m *Manager) Languages() []string {
	if m == nil {
		return nil
	}
	langs := make([]string, 0, len(m.dicts))
	for lang := range m.dicts {
		langs = append(langs, lang)
	}
	sort.Strings(langs)
	return langs
}

// Missing lists the keys of the default language that lang lacks.
func (m *Manager) Missing(lang string) []string {
	if m == nil {
		return nil
	}
	d := m.dicts[normalize(lang)]
	var missing []string
	for key := range m.dicts[m.defaultLang] {
		if _, ok := d[key]; !ok {
			missing = append(missing, key)
		}
	}
	sort.Strings(missing)
	return missing
}

// Format resolves key and fills its {{.Name}} placeholders from vars.
func Format(t Translator, key string, vars map[string]string) string {
	text := key
	if t != nil {
		text = t.T(key)
	}
	if len(vars) == 0 {
		return text
	}
	pairs := make([]string, 0, 2*len(vars))
	for name, value := range vars {
		pairs = append(pairs, "{{."+name+"}}", value)
	}
	return strings.NewReplacer(pairs...).Replace(text)
}

type translator struct {
	lang     string
	primary  dict
	fallback dict
}

func (t translator) Lang() string { return t.lang }

// T falls back to the default language, then to the key itself.
func (t translator) T(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return ""
	}
	if v := t.primary[key]; v != "" {
		return v
	}
	if v := t.fallback[key]; v != "" {
		return v
	}
	return key
}

func normalize(lang string) string {
	return strings.ToLower(strings.TrimSpace(lang))
}
