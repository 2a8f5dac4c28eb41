package listing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/APTlantis/http-tree-mirror/internal/httpclient"
)

func TestParseHumanizedSize(t *testing.T) {
	cases := []struct {
		in        string
		wantValue float64
		wantUnit  SizeUnit
		wantPrec  int
	}{
		{"1767", 1767, UnitB, 0},
		{"1.2M", 1.2, UnitM, 1},
		{"14.0K", 14.0, UnitK, 1},
		{"659", 659, UnitB, 0},
	}
	for _, c := range cases {
		got, err := ParseHumanizedSize(c.in)
		if err != nil {
			t.Fatalf("ParseHumanizedSize(%q): %v", c.in, err)
		}
		if got.Value != c.wantValue || got.Unit != c.wantUnit || got.Precision != c.wantPrec {
			t.Fatalf("ParseHumanizedSize(%q) = %+v, want {%v %v %v}", c.in, got, c.wantValue, c.wantUnit, c.wantPrec)
		}
	}
}

func TestRealNameFromHref(t *testing.T) {
	if got := realNameFromHref("bouncycastle/"); got != "bouncycastle" {
		t.Fatalf("got %q", got)
	}
	if got := realNameFromHref("my%20file.txt"); got != "my file.txt" {
		t.Fatalf("got %q", got)
	}
}

const fancyIndexPage = `<html><body><table><tbody>
<tr><td class="link"><a href="../">Parent Directory/</a></td><td class="size">-</td><td class="date">&nbsp;</td></tr>
<tr><td class="link"><a href="bouncycastle/">bouncycastle/</a></td><td class="size">-</td><td class="date">2024-04-23 19:01:54</td></tr>
<tr><td class="link"><a href="lwjgURL">lwjgURL</a></td><td class="size">1767</td><td class="date">2021-04-30 20:55:32</td></tr>
</tbody></table></body></html>`

func TestNginxFancyIndexParser(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(fancyIndexPage))
	}))
	defer srv.Close()

	client := httpclient.New(httpclient.Config{RetryBase: time.Millisecond, RetryMax: 2 * time.Millisecond})
	result, err := NginxFancyIndexParser{}.GetList(context.Background(), client, srv.URL+"/")
	if err != nil {
		t.Fatalf("GetList: %v", err)
	}
	if result.IsRedirect() {
		t.Fatalf("unexpected redirect")
	}
	if len(result.Items) != 2 {
		t.Fatalf("len(items) = %d, want 2 (Parent Directory/ must be skipped)", len(result.Items))
	}
	if result.Items[0].Name != "bouncycastle" || result.Items[0].Type != Directory {
		t.Fatalf("items[0] = %+v", result.Items[0])
	}
	if result.Items[1].Name != "lwjgURL" || result.Items[1].Type != File {
		t.Fatalf("items[1] = %+v", result.Items[1])
	}
	if result.Items[1].Size == nil || result.Items[1].Size.Humanized == nil || result.Items[1].Size.Humanized.Value != 1767 {
		t.Fatalf("items[1].Size = %+v", result.Items[1].Size)
	}
}

func TestNginxFancyIndexParserRedirect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/target/", http.StatusFound)
	}))
	defer srv.Close()

	client := httpclient.New(httpclient.Config{RetryBase: time.Millisecond, RetryMax: 2 * time.Millisecond})
	result, err := NginxFancyIndexParser{}.GetList(context.Background(), client, srv.URL+"/alias/")
	if err != nil {
		t.Fatalf("GetList: %v", err)
	}
	if !result.IsRedirect() {
		t.Fatalf("expected redirect result")
	}
}
