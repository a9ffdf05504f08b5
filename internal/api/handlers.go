package api

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"avanevis/internal/model"
	"avanevis/internal/queue"
	"avanevis/internal/storage"
	"avanevis/internal/store"
	"avanevis/internal/utils"
	"avanevis/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Server exposes the job API: create, read, list and delete
// transcription jobs, plus a WebSocket stream of status updates.
type Server struct {
	store       store.JobStore
	controller  *queue.Controller
	coordinator *queue.Coordinator
	audio       *storage.AudioStore
	hub         *ws.Hub
	upgrader    websocket.Upgrader
}

// NewServer wires the API to the queue core and its collaborators.
func NewServer(st store.JobStore, ctrl *queue.Controller, coord *queue.Coordinator, audio *storage.AudioStore, hub *ws.Hub) *Server {
	return &Server{
		store:       st,
		controller:  ctrl,
		coordinator: coord,
		audio:       audio,
		hub:         hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// RegisterRoutes attaches all endpoints to the gin engine.
func (s *Server) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", s.healthCheck)
	r.GET("/ws", s.handleWebSocket)

	v1 := r.Group("/api/v1")
	{
		v1.POST("/jobs", s.createJob)
		v1.GET("/jobs", s.listJobs)
		v1.GET("/jobs/:id", s.getJob)
		v1.DELETE("/jobs/:id", s.deleteJob)
	}
}

// healthCheck returns server health status
func (s *Server) healthCheck(c *gin.Context) {
	utils.Success(c, gin.H{
		"status":  "ok",
		"service": "avanevis-backend",
	})
}

// createJob handles audio upload and queues a transcription job. The
// job starts immediately when the user has no active job, otherwise it
// waits its turn in creation order.
func (s *Server) createJob(c *gin.Context) {
	userID, ok := s.userID(c, c.PostForm("user_id"))
	if !ok {
		return
	}

	engineName := model.EngineName(c.PostForm("engine"))
	if engineName == "" {
		engineName = model.EngineEboo
	}
	if !model.ValidEngine(engineName) {
		utils.Error(c, http.StatusBadRequest, "unsupported engine: "+string(engineName))
		return
	}

	file, err := c.FormFile("audio")
	if err != nil {
		utils.Error(c, http.StatusBadRequest, "audio file is required")
		return
	}

	job := &model.Job{
		ID:        uuid.New(),
		UserID:    userID,
		Engine:    engineName,
		Status:    model.StatusPending,
		CreatedAt: time.Now(),
	}
	if title := c.PostForm("title"); title != "" {
		job.Title = &title
	}

	path, err := s.audio.SaveAudio(job.ID, file)
	if err != nil {
		log.Printf("[API] Failed to save upload: %v", err)
		utils.Error(c, http.StatusInternalServerError, "failed to save audio file")
		return
	}
	job.AudioPath = path

	if err := s.store.Create(c.Request.Context(), job); err != nil {
		log.Printf("[API] Failed to create job: %v", err)
		s.audio.Remove(path)
		utils.Error(c, http.StatusInternalServerError, "failed to create job")
		return
	}

	if err := s.controller.Enqueue(c.Request.Context(), job); err != nil {
		log.Printf("[API] Enqueue failed for job %s: %v", job.ID, err)
	}

	// Re-read: enqueue may already have admitted the job.
	if fresh, err := s.store.GetByID(c.Request.Context(), job.ID); err == nil {
		job = fresh
	}
	utils.Created(c, jobJSON(job))
}

// listJobs handles GET /api/v1/jobs?user_id=...
func (s *Server) listJobs(c *gin.Context) {
	userIDStr := c.Query("user_id")
	if userIDStr == "" {
		userIDStr = c.GetHeader("X-User-ID")
	}
	userID, ok := s.userID(c, userIDStr)
	if !ok {
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit < 1 {
		limit = 20
	}
	if limit > 100 {
		limit = 100 // Max limit
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		offset = 0
	}

	jobs, err := s.store.ListByUser(c.Request.Context(), userID, limit, offset)
	if err != nil {
		log.Printf("[API] Failed to list jobs: %v", err)
		utils.Error(c, http.StatusInternalServerError, "failed to retrieve jobs")
		return
	}

	items := make([]gin.H, 0, len(jobs))
	for i := range jobs {
		items = append(items, jobJSON(&jobs[i]))
	}

	utils.Success(c, gin.H{
		"items":  items,
		"limit":  limit,
		"offset": offset,
		"count":  len(items),
	})
}

// getJob handles GET /api/v1/jobs/:id
func (s *Server) getJob(c *gin.Context) {
	id, ok := s.jobID(c)
	if !ok {
		return
	}

	job, err := s.store.GetByID(c.Request.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		utils.Error(c, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		log.Printf("[API] Failed to get job %s: %v", id, err)
		utils.Error(c, http.StatusInternalServerError, "failed to retrieve job")
		return
	}

	utils.Success(c, jobJSON(job))
}

// deleteJob handles DELETE /api/v1/jobs/:id — safe delete. Pending jobs
// are cancelled immediately; a running job keeps running until it
// observes the cancel flag, so the response may still say "processing".
// The audio artifact is removed once the job is terminal.
func (s *Server) deleteJob(c *gin.Context) {
	id, ok := s.jobID(c)
	if !ok {
		return
	}

	job, err := s.coordinator.Cancel(c.Request.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		utils.Error(c, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		log.Printf("[API] Failed to cancel job %s: %v", id, err)
		utils.Error(c, http.StatusInternalServerError, "failed to cancel job")
		return
	}

	if job.Status.IsTerminal() {
		s.audio.Remove(job.AudioPath)
	}

	utils.Success(c, gin.H{
		"id":               job.ID.String(),
		"status":           job.Status,
		"cancel_requested": job.CancelRequested,
	})
}

// handleWebSocket upgrades the connection and registers it with the hub.
func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[API] Failed to upgrade to WebSocket: %v", err)
		return
	}

	s.hub.RegisterClient(conn)

	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				s.hub.UnregisterClient(conn)
				return
			}
		}
	}()
}

func (s *Server) userID(c *gin.Context, raw string) (uuid.UUID, bool) {
	if raw == "" {
		utils.Error(c, http.StatusBadRequest, "user_id is required")
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		utils.Error(c, http.StatusBadRequest, "invalid user_id format")
		return uuid.Nil, false
	}
	return id, true
}

func (s *Server) jobID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.Error(c, http.StatusBadRequest, "invalid id format")
		return uuid.Nil, false
	}
	return id, true
}

// jobJSON renders a job with its optional fields present only when set.
func jobJSON(job *model.Job) gin.H {
	out := gin.H{
		"id":         job.ID.String(),
		"user_id":    job.UserID.String(),
		"engine":     job.Engine,
		"status":     job.Status,
		"created_at": job.CreatedAt,
	}
	if job.Title != nil && *job.Title != "" {
		out["title"] = *job.Title
	}
	if job.Transcript != nil {
		out["transcript"] = *job.Transcript
	}
	if job.ErrorMessage != nil {
		out["error_message"] = *job.ErrorMessage
	}
	if job.CancelRequested {
		out["cancel_requested"] = true
	}
	if job.StartedAt != nil {
		out["started_at"] = *job.StartedAt
	}
	if job.FinishedAt != nil {
		out["finished_at"] = *job.FinishedAt
	}
	return out
}
