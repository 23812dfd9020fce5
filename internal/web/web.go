package web

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"taskline/internal/clock"
	"taskline/internal/config"
	"taskline/internal/ics"
	appLog "taskline/internal/log"
	"taskline/internal/model"
	"taskline/internal/planner"
	"taskline/internal/recurrence"
	"taskline/internal/store"
)

const maxBodyBytes = 1 << 20

// Server is the JSON API over the planner.
type Server struct {
	cfg     *config.Config
	planner *planner.Service
	// syncer is optional; without it POST /api/refresh answers 503.
	syncer *ics.Syncer
	mux    *http.ServeMux
}

// NewServer constructs a new Server. syncer may be nil.
func NewServer(cfg *config.Config, p *planner.Service, syncer *ics.Syncer) *Server {
	s := &Server{
		cfg:     cfg,
		planner: p,
		syncer:  syncer,
		mux:     http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := s.logRequests(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty username or password disables auth.
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="taskline", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		if r.URL.Path == "/health" {
			return
		}
		appLog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"took", time.Since(started).Round(time.Microsecond),
		)
	})
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)

	s.mux.HandleFunc("GET /api/tasks", s.handleListTasks)
	s.mux.HandleFunc("POST /api/tasks", s.handleCreateTask)
	s.mux.HandleFunc("POST /api/tasks/{id}/complete", s.handleComplete)
	s.mux.HandleFunc("DELETE /api/tasks/{id}", s.handleDeleteTask)

	s.mux.HandleFunc("GET /api/recurrences", s.handleListRecurrences)
	s.mux.HandleFunc("DELETE /api/recurrences/{id}", s.handleDeleteRecurrence)
	s.mux.HandleFunc("GET /api/recurrences/{id}/export.ics", s.handleExportRecurrence)

	s.mux.HandleFunc("GET /api/timeline", s.handleTimeline)
	s.mux.HandleFunc("GET /api/export.ics", s.handleExportDay)
	s.mux.HandleFunc("POST /api/refresh", s.handleRefresh)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleListTasks returns instances matching every given query parameter.
//
// GET /api/tasks?type=work&completed=false&date=2024-01-03&recurrence=<id>
func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	f, err := s.filterFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	tasks, err := s.planner.List(r.Context(), f)
	if err != nil {
		s.fail(w, "list tasks", err)
		return
	}
	if tasks == nil {
		tasks = []model.TaskInstance{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) filterFromQuery(r *http.Request) (store.Filter, error) {
	q := r.URL.Query()
	var all store.All

	if v := q.Get("type"); v != "" {
		typ, err := model.ParseTaskType(v)
		if err != nil {
			return nil, err
		}
		all = append(all, store.ByType{Type: typ})
	}
	if v := q.Get("completed"); v != "" {
		done, err := strconv.ParseBool(v)
		if err != nil {
			return nil, errors.New("completed must be true or false")
		}
		all = append(all, store.ByCompletion{Completed: done})
	}
	if v := q.Get("date"); v != "" {
		day, err := clock.ParseDate(v, s.planner.Location())
		if err != nil {
			return nil, errors.New("date must be YYYY-MM-DD")
		}
		all = append(all, store.ByDate{Day: day})
	}
	if v := q.Get("recurrence"); v != "" {
		all = append(all, store.ByRecurrence{RecurrenceID: v})
	}
	return all, nil
}

// templateRequest is the wire shape of a new task. Dates are YYYY-MM-DD and
// times HH:MM in the server's timezone.
type templateRequest struct {
	Title         string                `json:"title"`
	Description   string                `json:"description"`
	Type          string                `json:"type"`
	Tags          []string              `json:"tags"`
	StartDate     string                `json:"start_date"`
	EndDate       string                `json:"end_date"`
	StartTime     string                `json:"start_time"`
	EndTime       string                `json:"end_time"`
	WeekDays      []string              `json:"week_days"`
	Notifications []model.Notification `json:"notifications"`
}

func (req templateRequest) template(loc *time.Location) (model.TaskTemplate, error) {
	typ, err := model.ParseTaskType(req.Type)
	if err != nil {
		return model.TaskTemplate{}, err
	}
	start, err := clock.ParseDate(req.StartDate, loc)
	if err != nil {
		return model.TaskTemplate{}, errors.New("start_date must be YYYY-MM-DD")
	}
	startTime, err := clock.Parse(req.StartTime)
	if err != nil {
		return model.TaskTemplate{}, err
	}
	endTime, err := clock.Parse(req.EndTime)
	if err != nil {
		return model.TaskTemplate{}, err
	}

	tpl := model.TaskTemplate{
		Title:         req.Title,
		Description:   req.Description,
		Type:          typ,
		Tags:          req.Tags,
		StartDate:     start,
		StartTime:     startTime,
		EndTime:       endTime,
		WeekDays:      req.WeekDays,
		Notifications: req.Notifications,
	}
	if req.EndDate != "" {
		end, err := clock.ParseDate(req.EndDate, loc)
		if err != nil {
			return model.TaskTemplate{}, errors.New("end_date must be YYYY-MM-DD")
		}
		tpl.EndDate = &end
		tpl.HasEndDate = true
	}
	return tpl, nil
}

type createdResponse struct {
	Recurrence *model.Recurrence    `json:"recurrence"`
	Instances  []model.TaskInstance `json:"instances"`
	Truncated  bool                 `json:"truncated,omitempty"`
}

// POST /api/tasks
func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req templateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	tpl, err := req.template(s.planner.Location())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	created, err := s.planner.CreateTask(r.Context(), tpl)
	if err != nil {
		s.fail(w, "create task", err)
		return
	}
	writeJSON(w, http.StatusCreated, createdResponse{
		Recurrence: created.Recurrence,
		Instances:  created.Instances,
		Truncated:  created.Truncated,
	})
}

// POST /api/tasks/{id}/complete  {"completed": true}
func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Completed *bool `json:"completed"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if body.Completed == nil {
		writeError(w, http.StatusBadRequest, "completed is required")
		return
	}
	task, err := s.planner.SetCompleted(r.Context(), r.PathValue("id"), *body.Completed)
	if err != nil {
		s.fail(w, "complete task", err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	if err := s.planner.Delete(r.Context(), r.PathValue("id")); err != nil {
		s.fail(w, "delete task", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListRecurrences(w http.ResponseWriter, r *http.Request) {
	recs, err := s.planner.Recurrences(r.Context())
	if err != nil {
		s.fail(w, "list recurrences", err)
		return
	}
	if recs == nil {
		recs = []model.Recurrence{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleDeleteRecurrence(w http.ResponseWriter, r *http.Request) {
	if err := s.planner.DeleteRecurrence(r.Context(), r.PathValue("id")); err != nil {
		s.fail(w, "delete recurrence", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleExportRecurrence(w http.ResponseWriter, r *http.Request) {
	rec, err := s.planner.Recurrence(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, "get recurrence", err)
		return
	}
	body, err := ics.ExportRecurrence(rec, s.planner.Location(), time.Now())
	if err != nil {
		s.fail(w, "export recurrence", err)
		return
	}
	writeCalendar(w, "recurrence-"+rec.ID+".ics", body)
}

// slotDTO is a timeline slot with HH:MM clock strings.
type slotDTO struct {
	Start      string               `json:"start"`
	End        string               `json:"end"`
	Minutes    int                  `json:"minutes"`
	IsFreeTime bool                 `json:"is_free_time"`
	HasOverlap bool                 `json:"has_overlap"`
	Label      string               `json:"label,omitempty"`
	Tasks      []model.TaskInstance `json:"tasks"`
}

type timelineResponse struct {
	Date     string    `json:"date"`
	Timezone string    `json:"timezone"`
	Slots    []slotDTO `json:"slots"`
}

// GET /api/timeline?date=2024-01-03 (default today)
func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	date, ok := s.dateParam(w, r)
	if !ok {
		return
	}
	day, err := s.planner.Day(r.Context(), date)
	if err != nil {
		s.fail(w, "day view", err)
		return
	}

	slots := make([]slotDTO, 0, len(day.Slots))
	for _, sl := range day.Slots {
		tasks := sl.Tasks
		if tasks == nil {
			tasks = []model.TaskInstance{}
		}
		slots = append(slots, slotDTO{
			Start:      sl.Start.String(),
			End:        sl.End.String(),
			Minutes:    sl.Minutes(),
			IsFreeTime: sl.IsFreeTime,
			HasOverlap: sl.HasOverlap,
			Label:      sl.Label,
			Tasks:      tasks,
		})
	}
	writeJSON(w, http.StatusOK, timelineResponse{
		Date:     day.Date.Format(time.DateOnly),
		Timezone: s.planner.Location().String(),
		Slots:    slots,
	})
}

// GET /api/export.ics?date=2024-01-03 (default today)
func (s *Server) handleExportDay(w http.ResponseWriter, r *http.Request) {
	date, ok := s.dateParam(w, r)
	if !ok {
		return
	}
	day, err := s.planner.Day(r.Context(), date)
	if err != nil {
		s.fail(w, "day view", err)
		return
	}
	writeCalendar(w, "tasks-"+day.Date.Format(time.DateOnly)+".ics", ics.ExportInstances(day.Tasks, time.Now()))
}

// POST /api/refresh imports the configured feeds now.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if s.syncer == nil || len(s.syncer.Sources) == 0 {
		writeError(w, http.StatusServiceUnavailable, "no feeds configured")
		return
	}
	stats, err := s.syncer.Sync(r.Context())
	resp := struct {
		ics.ImportStats
		Error string `json:"error,omitempty"`
	}{ImportStats: stats}
	if err != nil {
		resp.Error = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) dateParam(w http.ResponseWriter, r *http.Request) (time.Time, bool) {
	v := r.URL.Query().Get("date")
	if v == "" {
		return s.planner.Today(), true
	}
	d, err := clock.ParseDate(v, s.planner.Location())
	if err != nil {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return time.Time{}, false
	}
	return d, true
}

// fail maps domain errors to a status code and writes them.
func (s *Server) fail(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, recurrence.ErrInvalidTemplate),
		errors.Is(err, clock.ErrInvalidClock),
		errors.Is(err, model.ErrUnknownTaskType):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		appLog.Error("api "+op+" failed", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return errors.New("invalid JSON: " + strings.TrimPrefix(err.Error(), "json: "))
	}
	return nil
}

func writeCalendar(w http.ResponseWriter, filename, body string) {
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
