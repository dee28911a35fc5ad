package i18n

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Embedded(t *testing.T) {
	m, err := Load("fa")
	require.NoError(t, err)

	assert.Equal(t, []string{"en", "fa"}, m.Languages())
	assert.Equal(t, "➕ New playlist", m.Translator("en").T("main_menu.new_subscription"))
	assert.Equal(t, "➕ ساخت پلی‌لیست جدید", m.Translator("fa").T("main_menu.new_subscription"))
}

func TestEmbeddedLocales_HaveSameKeys(t *testing.T) {
	m, err := Load("fa")
	require.NoError(t, err)

	assert.Empty(t, m.Missing("en"))
	assert.Len(t, m.dicts["en"], len(m.dicts["fa"]))
}

func TestTranslator_Fallbacks(t *testing.T) {
	fsys := fstest.MapFS{
		"locales/fa.yaml": {Data: []byte("fa:\n  a: الف\n  nested:\n    b: ب\n")},
		"locales/en.yaml": {Data: []byte("en:\n  a: A\n")},
	}

	m, err := LoadFS(fsys, "locales", "fa")
	require.NoError(t, err)

	testCases := []struct {
		name string
		lang string
		key  string
		want string
	}{
		{name: "direct", lang: "en", key: "a", want: "A"},
		{name: "falls back to default language", lang: "en", key: "nested.b", want: "ب"},
		{name: "unknown language uses default", lang: "de", key: "a", want: "الف"},
		{name: "missing key returns key", lang: "fa", key: "missing", want: "missing"},
		{name: "language code is normalized", lang: " EN ", key: "a", want: "A"},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, m.Translator(tc.lang).T(tc.key))
		})
	}
}

func TestLoadFS_MissingDefault(t *testing.T) {
	fsys := fstest.MapFS{"l/en.yaml": {Data: []byte("en:\n  a: A\n")}}

	_, err := LoadFS(fsys, "l", "fa")
	assert.Error(t, err)
}

func TestLoadFS_LaterFilesOverride(t *testing.T) {
	fsys := fstest.MapFS{
		"l/a.yaml": {Data: []byte("fa:\n  a: one\n  b: two\n")},
		"l/b.yml":  {Data: []byte("fa:\n  a: three\n")},
		"l/readme": {Data: []byte("not yaml")},
		"l/c.yaml": {Data: []byte("")},
	}

	m, err := LoadFS(fsys, "l", "")
	require.NoError(t, err)
	fa := m.Translator("fa")
	assert.Equal(t, "three", fa.T("a"))
	assert.Equal(t, "two", fa.T("b"))
}

func TestLoadFS_RejectsListTopLevel(t *testing.T) {
	fsys := fstest.MapFS{"l/fa.yaml": {Data: []byte("- a\n- b\n")}}

	_, err := LoadFS(fsys, "l", "fa")
	assert.Error(t, err)
}

func TestFormat(t *testing.T) {
	m, err := Load("fa")
	require.NoError(t, err)

	got := Format(m.Translator("en"), "pagination.pagination_page", map[string]string{"Page": "2", "Total": "5"})
	assert.Equal(t, "Page 2/5", got)
}
