package world

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/cucumber/godog"
	messages "github.com/cucumber/messages/go/v21"
)

func table(rows ...[]string) *godog.Table {
	t := &godog.Table{}
	for _, r := range rows {
		row := &messages.PickleTableRow{}
		for _, v := range r {
			row.Cells = append(row.Cells, &messages.PickleTableCell{Value: v})
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}

func TestFlattenTable(t *testing.T) {
	tests := []struct {
		name  string
		table *godog.Table
		want  []string
	}{
		{name: "nil", table: nil, want: []string{}},
		{name: "empty", table: table(), want: []string{}},
		{name: "single column", table: table([]string{"T1"}, []string{"T2"}), want: []string{"T1", "T2"}},
		{name: "multi cell rows", table: table([]string{"a", "b"}, []string{"c"}), want: []string{"a", "b", "c"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FlattenTable(tt.table)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("FlattenTable() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestContextRoundTrip(t *testing.T) {
	if _, err := FromContext(context.Background()); !errors.Is(err, ErrNoWorld) {
		t.Fatalf("expected ErrNoWorld, got %v", err)
	}

	w := New(nil, map[string]string{"k": "v"}, nil)
	ctx := NewContext(context.Background(), w)

	got, err := FromContext(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != w {
		t.Error("expected the same world back")
	}
}

func TestNewCopiesParameters(t *testing.T) {
	params := map[string]string{"user": "alice"}
	w := New(nil, params, nil)
	w.Parameters["user"] = "bob"

	if params["user"] != "alice" {
		t.Error("world must not mutate the shared parameters")
	}
}

func TestAttachArtifact(t *testing.T) {
	var got []string
	sink := func(_ context.Context, body []byte, mediaType string) error {
		got = append(got, mediaType+":"+string(body))
		return nil
	}
	w := New(sink, nil, nil)

	if err := w.AttachArtifact(context.Background(), []byte("png"), "image/png"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0] != "image/png:png" {
		t.Errorf("sink received %q", got)
	}
	att := w.Attachments()
	if len(att) != 1 || att[0].MediaType != "image/png" || att[0].Size != 3 {
		t.Errorf("attachments = %+v", att)
	}
}

func TestAttachArtifactSinkError(t *testing.T) {
	w := New(func(context.Context, []byte, string) error { return errors.New("disk full") }, nil, nil)

	err := w.AttachArtifact(context.Background(), []byte("x"), "image/png")
	if err == nil {
		t.Fatal("expected error")
	}
	if len(w.Attachments()) != 0 {
		t.Error("failed attachment must not be recorded")
	}
}

type clearingNavigator struct {
	cleared int
}

func (c *clearingNavigator) Get(context.Context) error                 { return nil }
func (c *clearingNavigator) PageTitle(context.Context) (string, error) { return "", nil }
func (c *clearingNavigator) GoToHomePage(context.Context) error        { return nil }
func (c *clearingNavigator) ClearLocalStorage(context.Context) error {
	c.cleared++
	return nil
}

func TestClearLocalStorage(t *testing.T) {
	nav := &clearingNavigator{}
	w := New(nil, nil, nav)

	if err := w.ClearLocalStorage(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if nav.cleared != 1 {
		t.Errorf("cleared %d times, want 1", nav.cleared)
	}

	if err := New(nil, nil, nil).ClearLocalStorage(context.Background()); err == nil {
		t.Error("expected error without a page")
	}
}
