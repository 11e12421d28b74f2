package controller

import (
	"codebattle/internal/battle/model"
	"codebattle/internal/battle/service"
	"codebattle/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// BattleController handles the challenge REST endpoints.
type BattleController struct {
	requests *service.RequestService
}

// NewBattleController creates a new BattleController.
func NewBattleController(requests *service.RequestService) *BattleController {
	return &BattleController{requests: requests}
}

// CreateRequest handles POST /api/v1/battles/request.
func (h *BattleController) CreateRequest(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	var req CreateRequestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}

	created, err := h.requests.CreateRequest(c.Request.Context(), userID, req.OpponentID, model.Difficulty(req.Difficulty))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, created)
}

// Respond handles POST /api/v1/battles/request/:id/respond.
func (h *BattleController) Respond(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	requestID := c.Param("id")
	if requestID == "" {
		response.BadRequest(c, "Invalid request id")
		return
	}
	var req RespondRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}

	battle, err := h.requests.Respond(c.Request.Context(), requestID, userID, req.Accept)
	if err != nil {
		response.Error(c, err)
		return
	}
	resp := RespondResponse{Accepted: req.Accept}
	if battle != nil {
		resp.Battle = battle
	}
	response.Success(c, resp)
}

// Inbox handles GET /api/v1/battles/request/inbox.
func (h *BattleController) Inbox(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	requests, err := h.requests.Inbox(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, InboxResponse{Requests: requests})
}

// GetBattle handles GET /api/v1/battles/:id.
func (h *BattleController) GetBattle(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	battleID := c.Param("id")
	if battleID == "" {
		response.BadRequest(c, "Invalid battle id")
		return
	}
	snapshot, err := h.requests.GetBattle(c.Request.Context(), battleID, userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, snapshot)
}

// MyBattles handles GET /api/v1/battles/my.
func (h *BattleController) MyBattles(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	battles, err := h.requests.MyBattles(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, MyBattlesResponse{Battles: battles})
}

// CreateRequestRequest defines the challenge payload.
type CreateRequestRequest struct {
	OpponentID string `json:"opponent_id" binding:"required"`
	Difficulty string `json:"difficulty" binding:"required"`
}

// RespondRequest defines the accept/reject payload.
type RespondRequest struct {
	Accept bool `json:"accept"`
}

// RespondResponse carries the created battle on accept.
type RespondResponse struct {
	Accepted bool          `json:"accepted"`
	Battle   *model.Battle `json:"battle,omitempty"`
}

// InboxResponse lists pending requests for the caller.
type InboxResponse struct {
	Requests []*model.BattleRequest `json:"requests"`
}

// MyBattlesResponse lists the caller's battles.
type MyBattlesResponse struct {
	Battles []*model.Battle `json:"battles"`
}
