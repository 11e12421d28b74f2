package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"codebattle/internal/auth"
	"codebattle/internal/battle/model"
	"codebattle/internal/battle/repository"
	"codebattle/internal/battle/service"
	"codebattle/internal/problem"
	"codebattle/internal/realtime"
	pkgerrors "codebattle/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "controller-test-secret"

func newRouter(t *testing.T) (*gin.Engine, *repository.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := repository.NewMemoryStore()
	problems := problem.NewMemoryStore()
	broadcaster := realtime.NewMemoryBroadcaster()
	t.Cleanup(func() { broadcaster.Close() })

	for _, id := range []string{"p1", "p2", "p3", "p4", "p5"} {
		problems.Put(&problem.Problem{
			ID:            id,
			Title:         id,
			Difficulty:    model.DifficultyEasy,
			TimeLimitMs:   1000,
			MemoryLimitMB: 64,
			TestCases:     []problem.TestCase{{Input: "x", ExpectedOutput: "x"}},
		})
	}

	coordinator := service.NewCoordinator(store, broadcaster, nil)
	requests := service.NewRequestService(store, problems, broadcaster, coordinator)

	router := gin.New()
	handler := NewBattleController(requests)
	api := router.Group("/api/v1/battles")
	api.Use(AuthMiddleware(auth.NewVerifier(testSecret, "")))
	api.POST("/request", handler.CreateRequest)
	api.POST("/request/:id/respond", handler.Respond)
	api.GET("/request/inbox", handler.Inbox)
	api.GET("/my", handler.MyBattles)
	api.GET("/:id", handler.GetBattle)
	return router, store
}

func signToken(t *testing.T, userID string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":      userID,
		"username": userID,
		"typ":      "access",
		"exp":      time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

type envelope struct {
	Code    pkgerrors.ErrorCode `json:"code"`
	Message string              `json:"message"`
	Data    json.RawMessage     `json:"data"`
}

func doRequest(t *testing.T, router *gin.Engine, method, path, userID string, body interface{}) (*httptest.ResponseRecorder, *envelope) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+signToken(t, userID))
	}
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var resp envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal envelope: %v (body %s)", err, rec.Body.String())
	}
	return rec, &resp
}

func TestAuthRequired(t *testing.T) {
	router, _ := newRouter(t)

	rec, resp := doRequest(t, router, http.MethodGet, "/api/v1/battles/my", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if resp.Code != pkgerrors.TokenInvalid {
		t.Fatalf("code = %d, want TokenInvalid", resp.Code)
	}
}

func TestChallengeFlow(t *testing.T) {
	router, store := newRouter(t)

	rec, resp := doRequest(t, router, http.MethodPost, "/api/v1/battles/request", "alice",
		CreateRequestRequest{OpponentID: "bob", Difficulty: "easy"})
	if rec.Code != http.StatusOK {
		t.Fatalf("create status = %d: %s", rec.Code, resp.Message)
	}
	var created model.BattleRequest
	if err := json.Unmarshal(resp.Data, &created); err != nil {
		t.Fatalf("unmarshal request: %v", err)
	}
	if created.Status != model.RequestPending {
		t.Fatalf("status = %s, want pending", created.Status)
	}

	// Self challenge is a 4xx with the domain code.
	rec, resp = doRequest(t, router, http.MethodPost, "/api/v1/battles/request", "alice",
		CreateRequestRequest{OpponentID: "alice", Difficulty: "easy"})
	if rec.Code == http.StatusOK {
		t.Fatal("self challenge must fail")
	}
	if resp.Code != pkgerrors.SelfChallenge {
		t.Fatalf("code = %d, want SelfChallenge", resp.Code)
	}

	// Bob sees it in his inbox.
	_, resp = doRequest(t, router, http.MethodGet, "/api/v1/battles/request/inbox", "bob", nil)
	var inbox InboxResponse
	if err := json.Unmarshal(resp.Data, &inbox); err != nil {
		t.Fatalf("unmarshal inbox: %v", err)
	}
	if len(inbox.Requests) != 1 {
		t.Fatalf("inbox = %d, want 1", len(inbox.Requests))
	}

	// Bob accepts; a battle comes back.
	rec, resp = doRequest(t, router, http.MethodPost, "/api/v1/battles/request/"+created.ID+"/respond", "bob",
		RespondRequest{Accept: true})
	if rec.Code != http.StatusOK {
		t.Fatalf("respond status = %d: %s", rec.Code, resp.Message)
	}
	var respond RespondResponse
	if err := json.Unmarshal(resp.Data, &respond); err != nil {
		t.Fatalf("unmarshal respond: %v", err)
	}
	if respond.Battle == nil {
		t.Fatal("accept must return the battle")
	}
	if len(respond.Battle.ProblemIDs) != model.ProblemsPerBattle {
		t.Fatalf("problems = %d, want %d", len(respond.Battle.ProblemIDs), model.ProblemsPerBattle)
	}

	// Battle detail is participant-only.
	rec, _ = doRequest(t, router, http.MethodGet, "/api/v1/battles/"+respond.Battle.ID, "alice", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("detail status = %d", rec.Code)
	}
	rec, resp = doRequest(t, router, http.MethodGet, "/api/v1/battles/"+respond.Battle.ID, "mallory", nil)
	if rec.Code == http.StatusOK {
		t.Fatal("outsider must not read battle detail")
	}
	if resp.Code != pkgerrors.NotParticipant {
		t.Fatalf("code = %d, want NotParticipant", resp.Code)
	}

	// Both fighters see the battle in their lists.
	for _, user := range []string{"alice", "bob"} {
		_, resp = doRequest(t, router, http.MethodGet, "/api/v1/battles/my", user, nil)
		var mine MyBattlesResponse
		if err := json.Unmarshal(resp.Data, &mine); err != nil {
			t.Fatalf("unmarshal my battles: %v", err)
		}
		if len(mine.Battles) != 1 {
			t.Fatalf("%s battles = %d, want 1", user, len(mine.Battles))
		}
	}

	got, err := store.Battles.GetByID(context.Background(), respond.Battle.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != model.BattleWaiting {
		t.Fatalf("status = %s, want waiting until both connect", got.Status)
	}
}

func TestRespondRejectViaHTTP(t *testing.T) {
	router, _ := newRouter(t)

	_, resp := doRequest(t, router, http.MethodPost, "/api/v1/battles/request", "alice",
		CreateRequestRequest{OpponentID: "bob", Difficulty: "medium"})
	var created model.BattleRequest
	if err := json.Unmarshal(resp.Data, &created); err != nil {
		t.Fatalf("unmarshal request: %v", err)
	}

	rec, resp := doRequest(t, router, http.MethodPost, "/api/v1/battles/request/"+created.ID+"/respond", "bob",
		RespondRequest{Accept: false})
	if rec.Code != http.StatusOK {
		t.Fatalf("reject status = %d", rec.Code)
	}
	var respond RespondResponse
	if err := json.Unmarshal(resp.Data, &respond); err != nil {
		t.Fatalf("unmarshal respond: %v", err)
	}
	if respond.Accepted || respond.Battle != nil {
		t.Fatalf("reject response = %+v", respond)
	}

	// A rejected request cannot be accepted later.
	rec, _ = doRequest(t, router, http.MethodPost, "/api/v1/battles/request/"+created.ID+"/respond", "bob",
		RespondRequest{Accept: true})
	if rec.Code == http.StatusOK {
		t.Fatal("accept after reject must fail")
	}
}
