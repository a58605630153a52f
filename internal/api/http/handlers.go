package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/ZefanW/verl-prime/pkg/config"
	"github.com/ZefanW/verl-prime/pkg/errors"
	"github.com/ZefanW/verl-prime/pkg/types"
)

// runDriver is the slice of the trainer driver the handlers touch
type runDriver interface {
	RunID() string
	State() types.RunState
	CurrentStep() int64
	Config() *config.Config
	Pause()
	Resume()
	Stop()
}

type handlers struct {
	driver runDriver
	steps  StepLister
}

func (h *handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *handlers) runStatus(c *gin.Context) {
	cfg := h.driver.Config()
	c.JSON(http.StatusOK, gin.H{
		"run_id":        h.driver.RunID(),
		"state":         h.driver.State(),
		"current_step":  h.driver.CurrentStep(),
		"total_steps":   cfg.Trainer.TotalSteps,
		"adv_estimator": cfg.Algorithm.AdvEstimator,
		"project":       cfg.Trainer.ProjectName,
		"experiment":    cfg.Trainer.ExperimentName,
	})
}

func (h *handlers) runConfig(c *gin.Context) {
	// credentials sections are not part of the dump
	cfg := h.driver.Config()
	c.JSON(http.StatusOK, gin.H{
		"algorithm":         cfg.Algorithm,
		"reward_model":      cfg.RewardModel,
		"data":              cfg.Data,
		"actor_rollout_ref": cfg.ActorRolloutRef,
		"critic":            cfg.Critic,
		"trainer":           cfg.Trainer,
	})
}

func (h *handlers) runSteps(c *gin.Context) {
	if h.steps == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "step tracking is not configured"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	records, err := h.steps.ListSteps(c.Request.Context(), h.driver.RunID(), limit)
	if err != nil {
		c.JSON(errors.GetHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"steps": records})
}

func (h *handlers) pause(c *gin.Context) {
	if h.driver.State() != types.RunStateRunning {
		c.JSON(http.StatusConflict, gin.H{"error": "run is not running"})
		return
	}
	h.driver.Pause()
	c.JSON(http.StatusOK, gin.H{"state": h.driver.State()})
}

func (h *handlers) resume(c *gin.Context) {
	if h.driver.State() != types.RunStatePaused {
		c.JSON(http.StatusConflict, gin.H{"error": "run is not paused"})
		return
	}
	h.driver.Resume()
	c.JSON(http.StatusOK, gin.H{"state": h.driver.State()})
}

func (h *handlers) stop(c *gin.Context) {
	if h.driver.State().Terminal() {
		c.JSON(http.StatusConflict, gin.H{"error": "run already finished"})
		return
	}
	h.driver.Stop()
	c.JSON(http.StatusAccepted, gin.H{"state": h.driver.State()})
}
