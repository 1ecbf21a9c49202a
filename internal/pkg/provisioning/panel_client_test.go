package provisioning

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyshop-app/keyshop/app/models"
)

func testHost(panelURL string) *models.Host {
	return &models.Host{
		Name:     "de-1",
		PanelURL: panelURL,
		APIToken: "test-token",
	}
}

func userJSON(uuid, username string, expireAt time.Time) string {
	return fmt.Sprintf(`{"response":{"uuid":%q,"username":%q,"expireAt":%q,"subscriptionUrl":"https://sub.example/%s"}}`,
		uuid, username, expireAt.UTC().Format(time.RFC3339), uuid)
}

func TestCreateOrExtendCreatesNewUser(t *testing.T) {
	expiry := time.Now().UTC().AddDate(0, 0, 30).Truncate(time.Second)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/users", r.URL.Path)
		require.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "u42-alice@de-1.key", body["username"])

		fmt.Fprint(w, userJSON("uuid-1", "u42-alice@de-1.key", expiry))
	}))
	defer srv.Close()

	client := NewPanelClient()
	res, err := client.CreateOrExtend(context.Background(), testHost(srv.URL), CreateParams{
		Identity:  "u42-alice@de-1.key",
		DaysToAdd: 30,
	})
	require.NoError(t, err)
	assert.Equal(t, "uuid-1", res.RemoteUUID)
	assert.Equal(t, "https://sub.example/uuid-1", res.SubscriptionURL)
	assert.True(t, res.ExpiresAt.Equal(expiry))
}

func TestCreateOrExtendFallsBackToExtendOnConflict(t *testing.T) {
	requested := time.Now().UTC().AddDate(0, 0, 30).Truncate(time.Second)
	remote := requested.AddDate(0, 0, -10)

	var patched map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/users":
			w.WriteHeader(http.StatusConflict)
		case r.Method == http.MethodGet:
			fmt.Fprint(w, userJSON("uuid-2", "existing", remote))
		case r.Method == http.MethodPatch && r.URL.Path == "/api/users":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&patched))
			fmt.Fprint(w, userJSON("uuid-2", "existing", requested))
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusTeapot)
		}
	}))
	defer srv.Close()

	client := NewPanelClient()
	res, err := client.CreateOrExtend(context.Background(), testHost(srv.URL), CreateParams{
		Identity:  "existing",
		DaysToAdd: 30,
	})
	require.NoError(t, err)
	assert.Equal(t, "uuid-2", res.RemoteUUID)
	assert.Equal(t, "uuid-2", patched["uuid"])
	assert.Equal(t, requested.Format(time.RFC3339), patched["expireAt"])
}

func TestExtendNeverShortensRemoteExpiry(t *testing.T) {
	requested := time.Now().UTC().AddDate(0, 0, 30).Truncate(time.Second)
	remote := requested.AddDate(0, 0, 60)

	var patched map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			w.WriteHeader(http.StatusConflict)
		case http.MethodGet:
			fmt.Fprint(w, userJSON("uuid-3", "long-lived", remote))
		case http.MethodPatch:
			require.NoError(t, json.NewDecoder(r.Body).Decode(&patched))
			fmt.Fprint(w, userJSON("uuid-3", "long-lived", remote))
		}
	}))
	defer srv.Close()

	client := NewPanelClient()
	_, err := client.CreateOrExtend(context.Background(), testHost(srv.URL), CreateParams{
		Identity:  "long-lived",
		DaysToAdd: 30,
	})
	require.NoError(t, err)
	assert.Equal(t, remote.Format(time.RFC3339), patched["expireAt"])
}

func TestExistsMapsStatusesToPresence(t *testing.T) {
	var status int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if status == http.StatusOK {
			fmt.Fprint(w, userJSON("uuid-4", "someone", time.Now().AddDate(0, 1, 0)))
			return
		}
		w.WriteHeader(status)
	}))
	defer srv.Close()

	client := NewPanelClient()
	host := testHost(srv.URL)

	status = http.StatusOK
	presence, err := client.Exists(context.Background(), host, "someone")
	require.NoError(t, err)
	assert.Equal(t, PresencePresent, presence)

	status = http.StatusNotFound
	presence, err = client.Exists(context.Background(), host, "someone")
	require.NoError(t, err)
	assert.Equal(t, PresenceAbsent, presence)

	status = http.StatusBadGateway
	presence, err = client.Exists(context.Background(), host, "someone")
	require.Error(t, err)
	assert.Equal(t, PresenceUnknown, presence)
}

func TestDeleteLooksUpUUIDFirst(t *testing.T) {
	var deletedPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			fmt.Fprint(w, userJSON("uuid-5", "doomed", time.Now()))
		case http.MethodDelete:
			deletedPath = r.URL.Path
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer srv.Close()

	client := NewPanelClient()
	removed, err := client.Delete(context.Background(), testHost(srv.URL), "doomed")
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Equal(t, "/api/users/uuid-5", deletedPath)
}

func TestDeleteOfMissingUserIsNoOp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewPanelClient()
	removed, err := client.Delete(context.Background(), testHost(srv.URL), "ghost")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestCreateOrExtendRequiresPanelURL(t *testing.T) {
	client := NewPanelClient()
	_, err := client.CreateOrExtend(context.Background(), &models.Host{Name: "bare"}, CreateParams{Identity: "x"})
	assert.Error(t, err)
}
