package connector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"nhooyr.io/websocket"

	"github.com/jg-phare/taskcore/pkg/task"
	"github.com/jg-phare/taskcore/pkg/types"
)

// readLimit bounds a single websocket frame; repo maps can be large.
const readLimit = 8 << 20

// UI frame types.
const (
	frameEvent    = "event"
	frameResponse = "response"
)

// UI command types.
const (
	CmdCreateTask      = "create-task"
	CmdListTasks       = "list-tasks"
	CmdSubmitPrompt    = "submit-prompt"
	CmdAnswerQuestion  = "answer-question"
	CmdInterrupt       = "interrupt"
	CmdAddFile         = "add-file"
	CmdDropFile        = "drop-file"
	CmdDuplicateTask   = "duplicate-task"
	CmdDeleteTask      = "delete-task"
	CmdRestartTask     = "restart-task"
	CmdGetHistory      = "get-history"
	CmdGetInputHistory = "get-input-history"
	CmdFollow          = "follow"
)

// Command is a request from a UI client.
type Command struct {
	ID         string         `json:"id,omitempty"`
	Type       string         `json:"type"`
	TaskID     string         `json:"taskId,omitempty"`
	Text       string         `json:"text,omitempty"`
	Mode       string         `json:"mode,omitempty"`
	QuestionID string         `json:"questionId,omitempty"`
	Answer     string         `json:"answer,omitempty"`
	UserInput  string         `json:"userInput,omitempty"`
	Path       string         `json:"path,omitempty"`
	ReadOnly   bool           `json:"readOnly,omitempty"`
	Offset     int            `json:"offset,omitempty"`
	Limit      int            `json:"limit,omitempty"`
	Name       string         `json:"name,omitempty"`
	ProjectDir string         `json:"projectDir,omitempty"`
	WorkMode   types.WorkMode `json:"workMode,omitempty"`
}

// uiFrame is everything the server writes to a UI client.
type uiFrame struct {
	Type  string      `json:"type"`
	ID    string      `json:"id,omitempty"`
	Event *task.Event `json:"event,omitempty"`
	Data  any         `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

// ServerConfig configures a Server.
type ServerConfig struct {
	Manager *task.Manager
	Adapter *Adapter
	Hub     *Hub
	Logger  *slog.Logger
	// OriginPatterns are accepted cross-origin hosts for websocket
	// upgrades.
	OriginPatterns []string
}

// Server exposes the connector endpoint for subprocesses and the UI
// endpoint for clients over websockets.
type Server struct {
	manager *task.Manager
	adapter *Adapter
	hub     *Hub
	logger  *slog.Logger
	origins []string
}

// NewServer creates a Server.
func NewServer(cfg ServerConfig) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Hub == nil {
		cfg.Hub = NewHub(cfg.Logger)
	}
	if cfg.Adapter == nil {
		cfg.Adapter = NewAdapter(AdapterConfig{Tasks: cfg.Manager, Logger: cfg.Logger})
	}
	return &Server{
		manager: cfg.Manager,
		adapter: cfg.Adapter,
		hub:     cfg.Hub,
		logger:  cfg.Logger,
		origins: cfg.OriginPatterns,
	}
}

// Handler returns the HTTP handler serving /connector and /ui.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/connector", s.serveConnector)
	mux.HandleFunc("/ui", s.serveUI)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "ok")
	})
	return mux
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.logger.Info("server listening", "addr", addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) accept(w http.ResponseWriter, r *http.Request) (*websocket.Conn, error) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.origins})
	if err != nil {
		s.logger.Warn("websocket accept failed", "path", r.URL.Path, "error", err)
		return nil, err
	}
	conn.SetReadLimit(readLimit)
	return conn, nil
}

func (s *Server) serveConnector(w http.ResponseWriter, r *http.Request) {
	conn, err := s.accept(w, r)
	if err != nil {
		return
	}
	ctx := r.Context()
	c := NewConnector(types.NewID(), conn, s.logger)
	defer func() {
		s.adapter.Disconnected(context.WithoutCancel(ctx), c)
		conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if status := websocket.CloseStatus(err); status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway {
				s.logger.Debug("connector read ended", "connector", c.ID(), "error", err)
			}
			return
		}
		var in Inbound
		if err := json.Unmarshal(data, &in); err != nil {
			s.logger.Warn("malformed connector event dropped", "connector", c.ID(), "error", err)
			continue
		}
		_ = s.adapter.Handle(ctx, c, in)
	}
}

func (s *Server) serveUI(w http.ResponseWriter, r *http.Request) {
	conn, err := s.accept(w, r)
	if err != nil {
		return
	}
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	client := &uiClient{id: types.NewID(), out: make(chan []byte, clientBuffer)}
	s.hub.add(client)
	defer s.hub.remove(client)

	go func() {
		defer cancel()
		for {
			select {
			case data := <-client.out:
				if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			conn.Close(websocket.StatusNormalClosure, "")
			return
		}
		var cmd Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			s.logger.Warn("malformed ui command dropped", "client", client.id, "error", err)
			continue
		}
		result, err := s.execute(ctx, client, cmd)
		frame := uiFrame{Type: frameResponse, ID: cmd.ID, Data: result}
		if err != nil {
			frame.Error = err.Error()
			s.logger.Debug("ui command failed", "type", cmd.Type, "task_id", cmd.TaskID, "error", err)
		}
		out, err := json.Marshal(frame)
		if err != nil {
			continue
		}
		select {
		case client.out <- out:
		case <-ctx.Done():
			return
		}
	}
}

// execute runs a UI command against the task manager.
func (s *Server) execute(ctx context.Context, client *uiClient, cmd Command) (any, error) {
	switch cmd.Type {
	case CmdCreateTask:
		t, err := s.manager.Create(ctx, task.CreateOptions{
			Name:       cmd.Name,
			ProjectDir: cmd.ProjectDir,
			WorkMode:   cmd.WorkMode,
		})
		if err != nil {
			return nil, err
		}
		return t.Meta(), nil
	case CmdListTasks:
		return s.manager.List()
	case CmdDuplicateTask:
		t, err := s.manager.Duplicate(ctx, cmd.TaskID)
		if err != nil {
			return nil, err
		}
		return t.Meta(), nil
	case CmdDeleteTask:
		return nil, s.manager.Delete(ctx, cmd.TaskID)
	case CmdRestartTask:
		return nil, s.manager.Restart(cmd.TaskID)
	case CmdFollow:
		client.follow(cmd.TaskID)
		return nil, nil
	case CmdGetInputHistory:
		c, ok := s.adapter.Registry().Get(cmd.TaskID)
		if !ok {
			return []string{}, nil
		}
		return c.InputHistory(), nil
	}

	t, err := s.manager.Get(cmd.TaskID)
	if err != nil {
		return nil, err
	}
	switch cmd.Type {
	case CmdSubmitPrompt:
		mode, err := task.ParseMode(cmd.Mode)
		if err != nil {
			return nil, err
		}
		return nil, t.SubmitPrompt(ctx, cmd.Text, mode)
	case CmdAnswerQuestion:
		return nil, t.AnswerQuestion(ctx, cmd.QuestionID, cmd.Answer, cmd.UserInput)
	case CmdInterrupt:
		return nil, t.Interrupt()
	case CmdAddFile:
		return nil, t.AddFile(ctx, cmd.Path, cmd.ReadOnly)
	case CmdDropFile:
		return nil, t.DropFile(ctx, cmd.Path)
	case CmdGetHistory:
		return t.History(cmd.Offset, cmd.Limit)
	}
	return nil, fmt.Errorf("unknown command %q", cmd.Type)
}
