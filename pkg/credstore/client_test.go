package credstore

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetSessionEmptyToken(t *testing.T) {
	client := NewClient("http://unreachable.invalid", "key", "svc")

	session, err := client.GetSession(context.Background(), "")
	require.NoError(t, err)
	assert.Nil(t, session, "empty token means signed out, no provider call")
}

func TestGetSessionUnauthorizedMeansSignedOut(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := NewClient(server.URL, "key", "svc")
	session, err := client.GetSession(context.Background(), "expired-token")
	require.NoError(t, err)
	assert.Nil(t, session)
}

func TestGetSessionExpiredLocally(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"subject_id":"u1","expires_at":"2020-01-01T00:00:00Z"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "key", "svc")
	session, err := client.GetSession(context.Background(), "old-token")
	require.NoError(t, err)
	assert.Nil(t, session, "a session past its expiry is signed out even if the provider returns it")
}

func TestGetSessionProviderError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(server.URL, "key", "svc")
	_, err := client.GetSession(context.Background(), "token")
	assert.Error(t, err, "a provider failure is distinct from signed out")
}

func TestGetSessionSendsHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "api-key", r.Header.Get("X-Api-Key"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		expires := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
		w.Write([]byte(`{"subject_id":"u1","expires_at":"` + expires + `"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "api-key", "svc")
	session, err := client.GetSession(context.Background(), "tok")
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.Equal(t, "u1", session.SubjectID)
	assert.Equal(t, "tok", session.AccessToken)
}

func TestSignInRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid credentials"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "key", "svc")
	_, err := client.SignIn(context.Background(), "a@b.c", "wrong")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid credentials")
}

func TestSignUpReturnsSubject(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/signup", r.URL.Path)
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"u1","email":"a@b.c"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "key", "svc")
	subject, err := client.SignUp(context.Background(), "a@b.c", "pw", "/dashboard")
	require.NoError(t, err)
	assert.Equal(t, "u1", subject.ID)
}

func TestAdminGetSubjectUsesServiceKey(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/admin/users/u1", r.URL.Path)
		assert.Equal(t, "Bearer service-key", r.Header.Get("Authorization"))
		w.Write([]byte(`{"id":"u1","email":"a@b.c"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "key", "service-key")
	subject, err := client.AdminGetSubject(context.Background(), "u1")
	require.NoError(t, err)
	require.NotNil(t, subject)
	assert.Equal(t, "a@b.c", subject.Email)
}

func TestAdminGetSubjectNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := NewClient(server.URL, "key", "svc")
	subject, err := client.AdminGetSubject(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Nil(t, subject)
}
