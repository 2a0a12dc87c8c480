package client_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patvice/ruby-llm-mcp-sub002/shared"
	"github.com/patvice/ruby-llm-mcp-sub002/shared/mcp/schema"
)

func stubTemplateList(ft *fakeTransport, templates ...schema.ResourceTemplate) {
	ft.stubResult("resources/templates/list", schema.ListResourceTemplatesResult{
		ResourceTemplates: templates,
	})
}

func TestListResourceTemplatesCaches(t *testing.T) {
	c, ft := newTestClient(t)
	stubTemplateList(ft,
		schema.ResourceTemplate{URITemplate: "file:///logs/{date}.log", Name: "daily-log"},
		schema.ResourceTemplate{URITemplate: "db://{table}/{id}", Name: "row"},
	)
	startClient(t, c)

	templates, err := c.ListResourceTemplates(context.Background())
	require.NoError(t, err)
	require.Len(t, templates, 2)

	tmpl, err := c.ResourceTemplate(context.Background(), "row")
	require.NoError(t, err)
	assert.Equal(t, "db://{table}/{id}", tmpl.URITemplate)
	assert.Len(t, ft.requests("resources/templates/list"), 1)

	_, err = c.ResourceTemplate(context.Background(), "missing")
	var nf *shared.ResourceNotFoundError
	require.ErrorAs(t, err, &nf)
}

func TestTemplateContentExpandsBeforeReading(t *testing.T) {
	c, ft := newTestClient(t)
	stubTemplateList(ft, schema.ResourceTemplate{URITemplate: "file:///{dir}/{file}", Name: "by-path"})
	ft.stubResult("resources/read", schema.ReadResourceResult{
		Contents: []schema.ResourceContent{{URI: "file:///a%20dir/notes.txt", Text: shared.PointerTo("hello")}},
	})
	startClient(t, c)

	result, err := c.TemplateContent(context.Background(), "by-path", map[string]string{
		"dir":  "a dir",
		"file": "notes.txt",
	})
	require.NoError(t, err)
	require.Len(t, result.Contents, 1)

	reads := ft.requests("resources/read")
	require.Len(t, reads, 1)
	var params schema.ReadResourceRequestParams
	decodeRequestParams(t, reads[0], &params)
	assert.Equal(t, "file:///a%20dir/notes.txt", params.URI,
		"expansion happens locally and percent-encodes reserved characters")
}

func TestTemplateContentEncodesReservedCharacters(t *testing.T) {
	c, ft := newTestClient(t)
	stubTemplateList(ft, schema.ResourceTemplate{URITemplate: "db://{table}/{id}", Name: "row"})
	ft.stubResult("resources/read", schema.ReadResourceResult{})
	startClient(t, c)

	_, err := c.TemplateContent(context.Background(), "row", map[string]string{
		"table": "users/admin",
		"id":    "weird?key=value",
	})
	require.NoError(t, err)

	reads := ft.requests("resources/read")
	require.Len(t, reads, 1)
	var params schema.ReadResourceRequestParams
	decodeRequestParams(t, reads[0], &params)
	assert.Equal(t, "db://users%2Fadmin/weird%3Fkey%3Dvalue", params.URI)
}

func TestTemplateContentRejectsBadInput(t *testing.T) {
	cases := []struct {
		name     string
		template string
		args     map[string]string
		reason   string
	}{
		{"missing argument", "file:///{dir}/{file}", map[string]string{"dir": "x"}, "missing argument file"},
		{"unmatched open brace", "file:///{dir", map[string]string{"dir": "x"}, "unmatched '{'"},
		{"unmatched close brace", "file:///dir}", nil, "unmatched '}'"},
		{"empty expression", "file:///{}", nil, "empty expression"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, ft := newTestClient(t)
			stubTemplateList(ft, schema.ResourceTemplate{URITemplate: tc.template, Name: "broken"})
			startClient(t, c)

			_, err := c.TemplateContent(context.Background(), "broken", tc.args)
			var te *shared.TemplateError
			require.ErrorAs(t, err, &te)
			assert.Equal(t, tc.template, te.Template)
			assert.Contains(t, te.Reason, tc.reason)
			assert.Empty(t, ft.requests("resources/read"), "bad templates never reach the wire")
		})
	}
}

func TestCompleteTemplate(t *testing.T) {
	c, ft := newTestClient(t)
	stubTemplateList(ft, schema.ResourceTemplate{URITemplate: "file:///logs/{date}.log", Name: "daily-log"})
	ft.stubResult("completion/complete", schema.CompleteResult{
		Completion: schema.CompletionInfo{Values: []string{"2026-08-23", "2026-08-24"}},
	})
	startClient(t, c)

	info, err := c.CompleteTemplate(context.Background(), "daily-log", "date", "2026-08")
	require.NoError(t, err)
	assert.Equal(t, []string{"2026-08-23", "2026-08-24"}, info.Values)

	reqs := ft.requests("completion/complete")
	require.Len(t, reqs, 1)
	var params schema.CompleteRequestParams
	decodeRequestParams(t, reqs[0], &params)
	assert.Equal(t, schema.CompletionRefResource, params.Ref.Type)
	assert.Equal(t, "file:///logs/{date}.log", params.Ref.URI, "the reference carries the raw template")
	assert.Equal(t, "date", params.Argument.Name)
	assert.Equal(t, "2026-08", params.Argument.Value)
}
