package whatsapp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client := NewClient(Config{
		BaseURL:       srv.URL,
		APIVersion:    "v19.0",
		AccessToken:   "test-token",
		PhoneNumberID: "1234567890",
		CatalogID:     "cat-1",
	})
	return client, srv
}

func decodeBody(t *testing.T, r *http.Request) map[string]any {
	t.Helper()
	raw, err := io.ReadAll(r.Body)
	require.NoError(t, err)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(raw, &payload))
	return payload
}

func ackResponse(w http.ResponseWriter, id string) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"messaging_product":"whatsapp","messages":[{"id":"%s"}]}`, id)
}

func TestSendTextCarriesReplyContext(t *testing.T) {
	var got map[string]any
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v19.0/1234567890/messages", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		got = decodeBody(t, r)
		ackResponse(w, "wamid.text.1")
	})

	env, err := client.SendText(context.Background(), "212600000001", "hello", "wamid.orig")
	require.NoError(t, err)
	assert.Equal(t, "wamid.text.1", env.FirstMessageID())

	assert.Equal(t, "whatsapp", got["messaging_product"])
	assert.Equal(t, "text", got["type"])
	ctxBlock, ok := got["context"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "wamid.orig", ctxBlock["message_id"])
}

func TestSendTextSurfacesAPIError(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"message":"invalid recipient"}}`)
	})

	_, err := client.SendText(context.Background(), "bad", "hello", "")
	require.Error(t, err)
	apiErr, ok := err.(*APIError)
	require.True(t, ok)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Contains(t, apiErr.Body, "invalid recipient")
}

func TestSendProductListChunksAtThirty(t *testing.T) {
	var headers []string
	var bodies []string
	var counts []int
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		payload := decodeBody(t, r)
		interactive := payload["interactive"].(map[string]any)
		header := interactive["header"].(map[string]any)
		headers = append(headers, header["text"].(string))
		body := interactive["body"].(map[string]any)
		bodies = append(bodies, body["text"].(string))
		action := interactive["action"].(map[string]any)
		assert.Equal(t, "cat-1", action["catalog_id"])
		sections := action["sections"].([]any)
		items := sections[0].(map[string]any)["product_items"].([]any)
		counts = append(counts, len(items))
		ackResponse(w, fmt.Sprintf("wamid.list.%d", len(headers)))
	})

	ids := make([]string, 45)
	for i := range ids {
		ids[i] = fmt.Sprintf("sku-%d", i)
	}
	envs, err := client.SendProductList(context.Background(), "212600000001", "Collection", "Choose", "Items", ids)
	require.NoError(t, err)
	require.Len(t, envs, 2)
	assert.Equal(t, []int{30, 15}, counts)
	assert.Contains(t, headers[0], "1/2")
	assert.Contains(t, headers[1], "2/2")
	assert.Contains(t, bodies[0], "1-30")
	assert.Contains(t, bodies[0], "45")
	assert.Contains(t, bodies[1], "31-45")
}

func TestSendProductListSinglePartKeepsPlainBody(t *testing.T) {
	var bodies []string
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		payload := decodeBody(t, r)
		interactive := payload["interactive"].(map[string]any)
		body := interactive["body"].(map[string]any)
		bodies = append(bodies, body["text"].(string))
		ackResponse(w, "wamid.list.single")
	})

	ids := []string{"sku-0", "sku-1"}
	envs, err := client.SendProductList(context.Background(), "212600000001", "Collection", "Choose", "Items", ids)
	require.NoError(t, err)
	require.Len(t, envs, 1)
	assert.Equal(t, "Choose", bodies[0])
}

func TestSendReplyButtonsTruncatesTitles(t *testing.T) {
	var got map[string]any
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = decodeBody(t, r)
		ackResponse(w, "wamid.btn.1")
	})

	long := "This title is far longer than twenty characters"
	_, err := client.SendReplyButtons(context.Background(), "212600000001", "Pick one", []Button{
		{ID: "a", Title: long},
		{ID: "b", Title: "Short"},
	})
	require.NoError(t, err)

	buttons := got["interactive"].(map[string]any)["action"].(map[string]any)["buttons"].([]any)
	first := buttons[0].(map[string]any)["reply"].(map[string]any)
	title := first["title"].(string)
	assert.LessOrEqual(t, len([]rune(title)), 20)

	_, err = client.SendReplyButtons(context.Background(), "212600000001", "none", nil)
	require.Error(t, err)
}

func TestSendReactionEmptyEmojiRemoves(t *testing.T) {
	var got map[string]any
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = decodeBody(t, r)
		ackResponse(w, "wamid.react.1")
	})

	_, err := client.SendReaction(context.Background(), "212600000001", "wamid.target", "")
	require.NoError(t, err)
	reaction := got["reaction"].(map[string]any)
	assert.Equal(t, "wamid.target", reaction["message_id"])
	assert.Equal(t, "", reaction["emoji"])
}

func TestDownloadMediaTwoStep(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/v19.0/media-123", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		fmt.Fprintf(w, `{"url":"%s/blob","mime_type":"image/jpeg"}`, srv.URL)
	})
	mux.HandleFunc("/blob", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write([]byte("jpegbytes"))
	})

	client := NewClient(Config{
		BaseURL:       srv.URL,
		APIVersion:    "v19.0",
		AccessToken:   "test-token",
		PhoneNumberID: "1234567890",
	})

	data, contentType, err := client.DownloadMedia(context.Background(), "media-123")
	require.NoError(t, err)
	assert.Equal(t, []byte("jpegbytes"), data)
	assert.Equal(t, "image/jpeg", contentType)
}

func TestMarkReadPostsReceipt(t *testing.T) {
	var got map[string]any
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = decodeBody(t, r)
		fmt.Fprint(w, `{"success":true}`)
	})

	require.NoError(t, client.MarkRead(context.Background(), "wamid.in.1"))
	assert.Equal(t, "read", got["status"])
	assert.Equal(t, "wamid.in.1", got["message_id"])
}
