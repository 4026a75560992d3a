package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/julienschmidt/httprouter"
	"github.com/uplo-tech/errors"

	"github.com/uroni/urbackup-backend-sub007/build"
	"github.com/uroni/urbackup-backend-sub007/modules/backupstore"
	"github.com/uroni/urbackup-backend-sub007/modules/cleanup"
	"github.com/uroni/urbackup-backend-sub007/modules/status"
	"github.com/uroni/urbackup-backend-sub007/persist"
	"github.com/uroni/urbackup-backend-sub007/types"
)

// Server is the daemon's HTTP control plane: a thin read/trigger layer
// over the status registry, backup metadata store, and cleanup sweeper.
// It never touches the backup/restore wire protocol itself.
type Server struct {
	Status   *status.Registry
	Backups  *backupstore.Store
	Cleanup  *cleanup.Sweeper
	Policy   cleanup.Policy
	Password string
	log      *persist.Logger

	router *httprouter.Router
}

// New builds a Server wiring the given components. password, if
// non-empty, is required as HTTP basic auth on every request, matching
// the daemon's local-API convention.
func New(statusReg *status.Registry, backups *backupstore.Store, sweeper *cleanup.Sweeper, policy cleanup.Policy, password string, log *persist.Logger) *Server {
	s := &Server{
		Status:   statusReg,
		Backups:  backups,
		Cleanup:  sweeper,
		Policy:   policy,
		Password: password,
		log:      log,
	}
	s.router = httprouter.New()
	s.router.GET("/version", s.authed(s.handleVersion))
	s.router.GET("/status", s.authed(s.handleStatus))
	s.router.GET("/status/:client", s.authed(s.handleStatusOne))
	s.router.GET("/backups/:client", s.authed(s.handleBackups))
	s.router.POST("/cleanup/run", s.authed(s.handleCleanupRun))
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) authed(h httprouter.Handle) httprouter.Handle {
	if s.Password == "" {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		_, pass, ok := r.BasicAuth()
		if !ok || pass != s.Password {
			writeError(w, http.StatusUnauthorized, errors.New("api: invalid or missing password"))
			return
		}
		h(w, r, ps)
	}
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, VersionGet{Version: build.Version})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	all := s.Status.All()
	resp := StatusGet{Clients: make([]ClientStatus, 0, len(all))}
	for _, st := range all {
		resp.Clients = append(resp.Clients, toClientStatus(st))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStatusOne(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	st, ok := s.Status.Status(ps.ByName("client"))
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("api: unknown client"))
		return
	}
	writeJSON(w, http.StatusOK, toClientStatus(st))
}

func (s *Server) handleBackups(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	clientID, err := strconv.ParseUint(ps.ByName("client"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.AddContext(err, "api: invalid client id"))
		return
	}

	resp := BackupsGet{}
	s.Backups.Range(func(b types.Backup) bool {
		if b.ClientID == clientID {
			resp.Backups = append(resp.Backups, toBackupEntry(b))
		}
		return true
	})
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCleanupRun(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	err := s.Cleanup.Run(s.Policy)
	resp := CleanupRunPost{Ran: err == nil}
	if err != nil {
		resp.Error = err.Error()
		if s.log != nil {
			s.log.Println("api: cleanup run failed:", err)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func toClientStatus(st types.Status) ClientStatus {
	out := ClientStatus{
		ClientName: st.ClientName,
		Online:     st.Online,
		IP:         st.IP,
		LastError:  st.LastError,
		Processes:  make([]ProcessStatus, 0, len(st.Processes)),
	}
	for _, p := range st.Processes {
		out.Processes = append(out.Processes, ProcessStatus{
			ID:         uint64(p.ID),
			Action:     string(p.Action),
			PCDone:     p.PCDone,
			ETAMs:      p.ETAMs,
			StartTime:  p.StartTime,
			TotalBytes: p.TotalBytes,
			DoneBytes:  p.DoneBytes,
			SpeedBps:   p.SpeedBps,
			Details:    p.Details,
		})
	}
	return out
}

func toBackupEntry(b types.Backup) BackupEntry {
	return BackupEntry{
		ID:               uint64(b.ID),
		ClientID:         b.ClientID,
		Path:             b.Path,
		BackupTime:       b.BackupTime,
		IncrementalLevel: b.IncrementalLevel,
		Complete:         b.Complete,
		Archived:         b.Archived,
		DeletePending:    b.DeletePending,
		SizeBytes:        b.SizeBytes,
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, ErrorResponse{Message: err.Error()})
}
