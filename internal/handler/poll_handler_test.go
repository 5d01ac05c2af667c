package handler

import (
	"bytes"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func pollTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	h := NewPollHandler(nil)
	router.POST("/public/:tenantId/polls/:id/votes", h.Vote)
	return router
}

func TestVoteRejectsBallotWithoutAnswers(t *testing.T) {
	router := pollTestRouter()

	req, _ := http.NewRequest(http.MethodPost, "/public/t1/polls/poll-1/votes",
		bytes.NewBufferString(`{"voter_email":"ann@example.com"}`))
	req.Header.Set("Content-Type", "application/json")
	resp := performRequest(router, req)

	require.Equal(t, http.StatusBadRequest, resp.Code)
	require.Contains(t, resp.Body.String(), `"VALIDATION_ERROR"`)
}

func TestVoteRejectsInvalidVoterEmail(t *testing.T) {
	router := pollTestRouter()

	req, _ := http.NewRequest(http.MethodPost, "/public/t1/polls/poll-1/votes",
		bytes.NewBufferString(`{"voter_email":"nope","answers":["yes"]}`))
	req.Header.Set("Content-Type", "application/json")
	resp := performRequest(router, req)

	require.Equal(t, http.StatusBadRequest, resp.Code)
	require.Contains(t, resp.Body.String(), `"VALIDATION_ERROR"`)
}
