package imageurl

import (
	"fmt"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/posterwatch/internal/poster"
)

func TestOptimizeBuildsProxyQuery(t *testing.T) {
	t.Parallel()

	got := Transformer{}.Optimize("https://img.example/p.jpg", poster.DisplayHint{Width: 350, Quality: 75})

	u, err := url.Parse(got)
	require.NoError(t, err)
	assert.Equal(t, "wsrv.nl", u.Host)
	q := u.Query()
	assert.Equal(t, "https://img.example/p.jpg", q.Get("url"))
	assert.Equal(t, "350", q.Get("w"))
	assert.Equal(t, "75", q.Get("q"))
	assert.Equal(t, "1", q.Get("af"))
	assert.Equal(t, "1", q.Get("il"))
	assert.Equal(t, "cover", q.Get("fit"))
	assert.False(t, q.Has("h"))
}

func TestOptimizeDefaultsAndHeight(t *testing.T) {
	t.Parallel()

	got := New("https://proxy.internal/").Optimize("http://a/b.png", poster.DisplayHint{Height: 900})
	u, err := url.Parse(got)
	require.NoError(t, err)
	assert.Equal(t, "proxy.internal", u.Host)
	assert.Equal(t, "600", u.Query().Get("w"))
	assert.Equal(t, "85", u.Query().Get("q"))
	assert.Equal(t, "900", u.Query().Get("h"))
}

func TestOptimizePassthrough(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		origin string
		want   string
	}{
		{name: "empty", origin: "", want: ""},
		{name: "blank", origin: "   ", want: ""},
		{name: "data", origin: "data:image/png;base64,AAAA", want: "data:image/png;base64,AAAA"},
		{name: "blob", origin: "blob:https://app/1234", want: "blob:https://app/1234"},
		{name: "relative", origin: "/static/poster.jpg", want: "/static/poster.jpg"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, Transformer{}.Optimize(tc.origin, poster.DisplayHint{}))
		})
	}
}

func TestOptimizeIsDeterministic(t *testing.T) {
	t.Parallel()

	tr := Transformer{}
	hint := poster.DisplayHint{Width: 200, Height: 300, Quality: 60}
	assert.Equal(t, tr.Optimize("https://x/y.jpg", hint), tr.Optimize("https://x/y.jpg", hint))
}

func ExampleTransformer_Optimize() {
	t := Transformer{}
	fmt.Println(t.Optimize("https://img.example/poster.jpg", poster.DisplayHint{Width: 350, Quality: 75}))
	// Output: https://wsrv.nl/?af=1&fit=cover&il=1&q=75&url=https%3A%2F%2Fimg.example%2Fposter.jpg&w=350
}
