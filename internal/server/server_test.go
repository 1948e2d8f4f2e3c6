package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"

	"github.com/comigor/persona-dialogue/internal/config"
	"github.com/comigor/persona-dialogue/internal/domain"
	"github.com/comigor/persona-dialogue/internal/llm"
	"github.com/comigor/persona-dialogue/internal/session"
	"github.com/comigor/persona-dialogue/internal/transcript"
)

type fakeBackend struct {
	mu      sync.Mutex
	replies []string // consumed per character call; exhausted means "ok"
	failAt  int
	calls   int
}

func (f *fakeBackend) Complete(ctx context.Context, prompt string) (string, error) {
	if strings.Contains(prompt, "外貌") {
		return "银甲白袍", nil
	}
	return "主公", nil
}

func (f *fakeBackend) CharacterChat(ctx context.Context, meta domain.CharacterMeta, messages []domain.TextMessage) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failAt == f.calls {
		return "", &llm.RemoteCallError{Op: "character chat", StatusCode: http.StatusServiceUnavailable}
	}
	if len(f.replies) > 0 {
		r := f.replies[0]
		f.replies = f.replies[1:]
		return r, nil
	}
	return "ok", nil
}

func (f *fakeBackend) GenerateImage(ctx context.Context, prompt string) (string, error) {
	return "https://img.example.com/" + prompt, nil
}

type testEnv struct {
	e        *echo.Echo
	cfg      *config.Config
	store    *session.Store
	backend  *fakeBackend
	keysSeen []string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		cfg: &config.Config{
			LLM: config.LLMConfig{APIKey: "cfg-id.cfg-secret"},
			Dialogue: config.DialogueConfig{
				DefaultRounds: 3,
				TranscriptDir: t.TempDir(),
				ImageDir:      "resources/image",
				ImageAttempts: 3,
			},
		},
		store: session.NewStore(domain.CharacterMeta{
			UserName: "姜维", UserInfo: "蜀汉大将军",
			BotName: "刘备", BotInfo: "蜀汉开国皇帝",
		}),
		backend: &fakeBackend{},
	}
	env.e = New(env.cfg, env.store, func(cfg config.LLMConfig) (Backend, error) {
		env.keysSeen = append(env.keysSeen, cfg.APIKey)
		return env.backend, nil
	})
	return env
}

func (env *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)
	return rec
}

func (env *testEnv) createSession(t *testing.T) session.Snapshot {
	t.Helper()
	rec := env.do(t, http.MethodPost, "/api/sessions", "")
	require.Equal(t, http.StatusCreated, rec.Code)
	var snap session.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	return snap
}

func decodeStart(t *testing.T, rec *httptest.ResponseRecorder) startResponse {
	t.Helper()
	var resp startResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "healthy")
}

func TestCreateAndGetSession(t *testing.T) {
	env := newTestEnv(t)
	snap := env.createSession(t)
	require.NotEmpty(t, snap.ID)
	require.Equal(t, "姜维", snap.Meta.UserName)
	require.Empty(t, snap.History)

	rec := env.do(t, http.MethodGet, "/api/sessions/"+snap.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/sessions/missing", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodDelete, "/api/sessions/"+snap.ID, "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = env.do(t, http.MethodGet, "/api/sessions/"+snap.ID, "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSetMeta(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t).ID

	rec := env.do(t, http.MethodPut, "/api/sessions/"+id+"/meta", `{"user_name":"诸葛亮","user_info":"丞相","bot_name":"刘备","bot_info":"主公"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	s, err := env.store.Get(id)
	require.NoError(t, err)
	require.Equal(t, "诸葛亮", s.Meta().UserName)
	require.Equal(t, "主公", s.Meta().BotInfo)

	long := strings.Repeat("名", MaxNameLength+1)
	rec = env.do(t, http.MethodPut, "/api/sessions/"+id+"/meta", `{"user_name":"`+long+`"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "诸葛亮", s.Meta().UserName)

	rec = env.do(t, http.MethodPut, "/api/sessions/nope/meta", `{}`)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestClearMetaAndHistory(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t).ID
	rec := env.do(t, http.MethodPost, "/api/sessions/"+id+"/dialogue", `{"rounds":3}`)
	require.Equal(t, http.StatusOK, rec.Code)

	s, err := env.store.Get(id)
	require.NoError(t, err)

	rec = env.do(t, http.MethodDelete, "/api/sessions/"+id+"/meta", "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, domain.CharacterMeta{}, s.Meta())
	require.Len(t, s.History(), 7)

	rec = env.do(t, http.MethodDelete, "/api/sessions/"+id+"/history", "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Empty(t, s.History())
	require.Empty(t, s.Snapshot().Feed)
}

func TestStartDialogue(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t).ID

	rec := env.do(t, http.MethodPost, "/api/sessions/"+id+"/dialogue", `{"rounds":3}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decodeStart(t, rec)
	require.Empty(t, resp.Error)
	require.Len(t, resp.History, 7)
	require.Equal(t, domain.RoleUser, resp.History[0].Role)
	require.Equal(t, "主公", resp.History[0].Content)
	require.Equal(t, 3, resp.Report.CompletedRounds)
	require.False(t, resp.Report.Halted)
	require.Equal(t, "resources/image/role1_info.png", resp.Meta.UserImagePath)
	require.Equal(t, []string{"cfg-id.cfg-secret"}, env.keysSeen)

	meta, history, err := transcript.Read(resp.Report.TranscriptPath)
	require.NoError(t, err)
	require.Equal(t, resp.Meta, meta)
	require.Equal(t, resp.History, history)

	s, err := env.store.Get(id)
	require.NoError(t, err)
	snap := s.Snapshot()
	require.Len(t, snap.Feed, 7)
	require.Equal(t, "姜维:主公", snap.Feed[0].Text)
	require.False(t, snap.Running)
}

func TestStartDialogue_DefaultRoundsAndImages(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t).ID

	rec := env.do(t, http.MethodPost, "/api/sessions/"+id+"/dialogue", `{"generate_images":true}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decodeStart(t, rec)
	require.Equal(t, 3, resp.Report.Rounds)
	require.Equal(t, "https://img.example.com/银甲白袍", resp.Meta.UserImagePath)
	require.Equal(t, "https://img.example.com/银甲白袍", resp.Meta.BotImagePath)
}

func TestStartDialogue_SessionAPIKey(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t).ID

	rec := env.do(t, http.MethodPut, "/api/sessions/"+id+"/api-key", `{"api_key":" mine.key "}`)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/sessions/"+id+"/dialogue", `{"rounds":3}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []string{"mine.key"}, env.keysSeen)
}

func TestStartDialogue_Preconditions(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t).ID

	rec := env.do(t, http.MethodPost, "/api/sessions/"+id+"/dialogue", `{"rounds":21}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	env.cfg.LLM.APIKey = ""
	rec = env.do(t, http.MethodPost, "/api/sessions/"+id+"/dialogue", `{"rounds":3}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, decodeStart(t, rec).Error, llm.ErrAPIKeyNotSet.Error())

	env.cfg.LLM.APIKey = "malformed"
	rec = env.do(t, http.MethodPost, "/api/sessions/"+id+"/dialogue", `{"rounds":3}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	env.cfg.LLM.APIKey = "id.secret"
	env.do(t, http.MethodDelete, "/api/sessions/"+id+"/meta", "")
	rec = env.do(t, http.MethodPost, "/api/sessions/"+id+"/dialogue", `{"rounds":3}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	require.Empty(t, env.keysSeen)
	require.Zero(t, env.backend.calls)

	entries, err := os.ReadDir(env.cfg.Dialogue.TranscriptDir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestStartDialogue_EmptyReply(t *testing.T) {
	env := newTestEnv(t)
	env.backend.replies = []string{"bot", ""}
	id := env.createSession(t).ID

	rec := env.do(t, http.MethodPost, "/api/sessions/"+id+"/dialogue", `{"rounds":3}`)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeStart(t, rec)
	require.True(t, resp.Report.Halted)
	require.Len(t, resp.History, 2)
	require.NotEmpty(t, resp.Report.TranscriptPath)
}

func TestStartDialogue_RemoteFailure(t *testing.T) {
	env := newTestEnv(t)
	env.backend.failAt = 3
	id := env.createSession(t).ID

	rec := env.do(t, http.MethodPost, "/api/sessions/"+id+"/dialogue", `{"rounds":3}`)
	require.Equal(t, http.StatusBadGateway, rec.Code)
	resp := decodeStart(t, rec)
	require.NotEmpty(t, resp.Error)
	require.Len(t, resp.History, 3)
	require.NotEmpty(t, resp.Report.TranscriptPath)
}

func TestStartDialogue_Busy(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t).ID
	s, err := env.store.Get(id)
	require.NoError(t, err)

	_ = s.Exclusive(func() error {
		rec := env.do(t, http.MethodPost, "/api/sessions/"+id+"/dialogue", `{"rounds":3}`)
		require.Equal(t, http.StatusConflict, rec.Code)
		return nil
	})
}

func TestMutatorsBusyDuringDialogue(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t).ID
	s, err := env.store.Get(id)
	require.NoError(t, err)

	_ = s.Exclusive(func() error {
		rec := env.do(t, http.MethodDelete, "/api/sessions/"+id+"/history", "")
		require.Equal(t, http.StatusConflict, rec.Code)
		rec = env.do(t, http.MethodDelete, "/api/sessions/"+id+"/meta", "")
		require.Equal(t, http.StatusConflict, rec.Code)
		rec = env.do(t, http.MethodPut, "/api/sessions/"+id+"/meta", `{"user_name":"诸葛亮"}`)
		require.Equal(t, http.StatusConflict, rec.Code)
		return nil
	})
	require.Equal(t, "姜维", s.Meta().UserName)
}

func TestDebug(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t).ID

	for _, what := range []string{"api-key", "meta", "history"} {
		rec := env.do(t, http.MethodPost, "/api/sessions/"+id+"/debug/"+what, "")
		require.Equal(t, http.StatusNoContent, rec.Code, what)
	}
	rec := env.do(t, http.MethodPost, "/api/sessions/"+id+"/debug/secrets", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMaskKey(t *testing.T) {
	require.Equal(t, "", MaskKey(""))
	require.Equal(t, "abc.****", MaskKey("abc.very-secret"))
	require.Equal(t, "****", MaskKey("abc"))
	require.Equal(t, "abcd****", MaskKey("abcdefgh"))
}
