package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/sentinelmesh/core/pkg/auth"
	"github.com/sentinelmesh/core/pkg/chain"
	"github.com/sentinelmesh/core/pkg/contracts"
	"github.com/sentinelmesh/core/pkg/tracking"
	"github.com/sentinelmesh/core/pkg/videoledger"
)

// Server exposes the chain over HTTP.
type Server struct {
	chain  *chain.Chain
	logger *slog.Logger
}

// NewServer creates a server over a chain.
func NewServer(c *chain.Chain, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{chain: c, logger: logger}
}

// Handler builds the full route tree wrapped in auth and rate limiting.
// A nil validator leaves only /health and /readiness reachable.
func (s *Server) Handler(validator *auth.Validator, limiter *auth.RateLimiter) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /readiness", s.handleHealth)

	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("GET /api/videos", s.handleVideoList)
	mux.HandleFunc("GET /api/videos/{hash}", s.handleVideoGet)
	mux.HandleFunc("GET /api/videos/{hash}/alerts", s.handleVideoAlerts)
	mux.HandleFunc("GET /api/videos/{hash}/spread", s.handleVideoSpread)
	mux.HandleFunc("GET /api/videos/{hash}/lineage", s.handleVideoLineage)
	mux.HandleFunc("GET /api/videos/{hash}/trace", s.handleVideoTrace)
	mux.HandleFunc("GET /api/similar/{phash}", s.handleSimilar)
	mux.HandleFunc("GET /api/alerts", s.handleAlertList)
	mux.HandleFunc("GET /api/alerts/{id}", s.handleAlertGet)
	mux.HandleFunc("GET /api/chain/head", s.handleChainHead)
	mux.HandleFunc("GET /api/chain/verify", s.handleChainVerify)
	mux.HandleFunc("GET /api/nodes", s.handleNodeList)

	mux.HandleFunc("POST /api/detections", s.handleSubmitDetection)
	mux.HandleFunc("POST /api/detections/batch", s.handleSubmitBatch)
	mux.HandleFunc("POST /api/sightings", s.handleReportSighting)
	mux.HandleFunc("POST /api/lineage", s.handleRegisterLineage)
	mux.HandleFunc("POST /api/alerts/{id}/ack", s.handleAckAlert)
	mux.HandleFunc("POST /api/alerts/ack", s.handleAckBatch)

	admin := http.NewServeMux()
	admin.HandleFunc("POST /api/admin/nodes", s.handleAuthorizeNode)
	admin.HandleFunc("DELETE /api/admin/nodes/{address}", s.handleDeauthorizeNode)
	admin.HandleFunc("POST /api/admin/transfer", s.handleTransferOwnership)
	admin.HandleFunc("POST /api/admin/rules", s.handleSetGlobalRules)
	admin.HandleFunc("POST /api/admin/rules/video", s.handleSetVideoRules)
	admin.HandleFunc("POST /api/admin/cooldown", s.handleSetCooldown)
	mux.Handle("/api/admin/", auth.RequireAdmin(admin))

	var h http.Handler = mux
	if limiter != nil {
		h = limiter.Middleware(h)
	}
	return auth.Middleware(validator)(h)
}

// caller resolves the wallet address bound to the request token.
func caller(r *http.Request) (contracts.Address, bool) {
	claims, ok := auth.ClaimsFrom(r.Context())
	if !ok {
		return contracts.ZeroAddress, false
	}
	return claims.Address(), true
}

func pathHash(r *http.Request, name string) (contracts.Hash, error) {
	return contracts.ParseHash(r.PathValue(name))
}

func pagination(r *http.Request) (offset, limit int) {
	offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 || limit > 500 {
		limit = 100
	}
	return offset, limit
}

// writeChainError maps domain errors to problem responses.
func writeChainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, contracts.ErrNotAuthorized), errors.Is(err, contracts.ErrNotOwner):
		WriteForbidden(w, err.Error())
	case errors.Is(err, contracts.ErrNotFound):
		WriteNotFound(w, err.Error())
	case errors.Is(err, contracts.ErrAlreadyAuthorized),
		errors.Is(err, contracts.ErrAlreadyAcknowledged),
		errors.Is(err, contracts.ErrAlreadyRegistered):
		WriteConflict(w, err.Error())
	default:
		WriteBadRequest(w, err.Error())
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{
		"videos":                s.chain.Stats(),
		"active_nodes":          s.chain.ActiveNodeCount(),
		"unacknowledged_alerts": s.chain.UnacknowledgedAlerts(),
		"chain_length":          s.chain.Log().Length(),
	})
}

func (s *Server) handleVideoList(w http.ResponseWriter, r *http.Request) {
	offset, limit := pagination(r)
	WriteJSON(w, http.StatusOK, map[string]any{"hashes": s.chain.VideoHashes(offset, limit)})
}

func (s *Server) handleVideoGet(w http.ResponseWriter, r *http.Request) {
	h, err := pathHash(r, "hash")
	if err != nil {
		WriteBadRequest(w, err.Error())
		return
	}
	rec, err := s.chain.Video(h)
	if err != nil {
		writeChainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, rec)
}

func (s *Server) handleVideoAlerts(w http.ResponseWriter, r *http.Request) {
	h, err := pathHash(r, "hash")
	if err != nil {
		WriteBadRequest(w, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"alerts": s.chain.VideoAlerts(h)})
}

func (s *Server) handleVideoSpread(w http.ResponseWriter, r *http.Request) {
	h, err := pathHash(r, "hash")
	if err != nil {
		WriteBadRequest(w, err.Error())
		return
	}
	offset, limit := pagination(r)
	WriteJSON(w, http.StatusOK, map[string]any{
		"events": s.chain.SpreadEvents(h, offset, limit),
		"total":  s.chain.SpreadCount(h),
	})
}

func (s *Server) handleVideoLineage(w http.ResponseWriter, r *http.Request) {
	h, err := pathHash(r, "hash")
	if err != nil {
		WriteBadRequest(w, err.Error())
		return
	}
	rec, err := s.chain.Lineage(h)
	if err != nil {
		writeChainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, rec)
}

func (s *Server) handleVideoTrace(w http.ResponseWriter, r *http.Request) {
	h, err := pathHash(r, "hash")
	if err != nil {
		WriteBadRequest(w, err.Error())
		return
	}
	depth, _ := strconv.Atoi(r.URL.Query().Get("depth"))
	WriteJSON(w, http.StatusOK, map[string]any{"ancestors": s.chain.TraceToRoot(h, depth)})
}

func (s *Server) handleSimilar(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{
		"hashes": s.chain.FindSimilar(r.PathValue("phash")),
	})
}

func (s *Server) handleAlertList(w http.ResponseWriter, r *http.Request) {
	offset, limit := pagination(r)
	WriteJSON(w, http.StatusOK, map[string]any{
		"alerts":         s.chain.Alerts(offset, limit),
		"unacknowledged": s.chain.UnacknowledgedAlerts(),
	})
}

func (s *Server) handleAlertGet(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		WriteBadRequest(w, "invalid alert id")
		return
	}
	alert, err := s.chain.Alert(id)
	if err != nil {
		WriteNotFound(w, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, alert)
}

func (s *Server) handleChainHead(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{
		"head":   s.chain.Log().Head(),
		"length": s.chain.Log().Length(),
	})
}

func (s *Server) handleChainVerify(w http.ResponseWriter, _ *http.Request) {
	start := time.Now()
	if err := s.chain.Log().Verify(); err != nil {
		WriteJSON(w, http.StatusOK, map[string]any{"intact": false, "error": err.Error()})
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"intact":      true,
		"length":      s.chain.Log().Length(),
		"verified_in": time.Since(start).String(),
	})
}

func (s *Server) handleNodeList(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{
		"owner": s.chain.Owner(),
		"nodes": s.chain.Nodes(),
	})
}

type detectionRequest struct {
	ContentHash    string `json:"content_hash"`
	PerceptualHash string `json:"perceptual_hash"`
	IsDeepfake     bool   `json:"is_deepfake"`
	ConfidenceBp   uint32 `json:"confidence_bp"`
	LipsyncBp      uint32 `json:"lipsync_bp"`
	FactCheckBp    uint32 `json:"fact_check_bp"`
	IPHash         string `json:"ip_hash"`
	Country        string `json:"country"`
	City           string `json:"city"`
	Lat            int64  `json:"lat"`
	Lon            int64  `json:"lon"`
	Metadata       string `json:"metadata"`
}

func (d detectionRequest) registration() (videoledger.Registration, error) {
	contentHash, err := contracts.ParseHash(d.ContentHash)
	if err != nil {
		return videoledger.Registration{}, err
	}
	var ipHash contracts.Hash
	if d.IPHash != "" {
		if ipHash, err = contracts.ParseHash(d.IPHash); err != nil {
			return videoledger.Registration{}, err
		}
	}
	return videoledger.Registration{
		ContentHash:    contentHash,
		PerceptualHash: d.PerceptualHash,
		IsDeepfake:     d.IsDeepfake,
		ConfidenceBp:   d.ConfidenceBp,
		LipsyncBp:      d.LipsyncBp,
		FactCheckBp:    d.FactCheckBp,
		IPHash:         ipHash,
		Country:        d.Country,
		City:           d.City,
		Lat:            d.Lat,
		Lon:            d.Lon,
		Metadata:       d.Metadata,
	}, nil
}

func (s *Server) handleSubmitDetection(w http.ResponseWriter, r *http.Request) {
	addr, ok := caller(r)
	if !ok {
		WriteUnauthorized(w, "")
		return
	}
	var req detectionRequest
	if err := decodeValidated(r, compiledDetection, &req); err != nil {
		WriteBadRequest(w, err.Error())
		return
	}
	reg, err := req.registration()
	if err != nil {
		WriteBadRequest(w, err.Error())
		return
	}
	out, err := s.chain.SubmitDetection(addr, reg)
	if err != nil {
		writeChainError(w, err)
		return
	}
	status := http.StatusOK
	if out.Register.IsNew {
		status = http.StatusCreated
	}
	WriteJSON(w, status, out)
}

type batchRequest struct {
	Detections []detectionRequest `json:"detections"`
}

func (s *Server) handleSubmitBatch(w http.ResponseWriter, r *http.Request) {
	addr, ok := caller(r)
	if !ok {
		WriteUnauthorized(w, "")
		return
	}
	var req batchRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteBadRequest(w, err.Error())
		return
	}

	b := videoledger.Batch{}
	for _, d := range req.Detections {
		contentHash, _ := contracts.ParseHash(d.ContentHash) // zero on parse failure: skipped downstream
		var ipHash contracts.Hash
		if d.IPHash != "" {
			ipHash, _ = contracts.ParseHash(d.IPHash)
		}
		b.ContentHashes = append(b.ContentHashes, contentHash)
		b.PerceptualHashes = append(b.PerceptualHashes, d.PerceptualHash)
		b.IsDeepfake = append(b.IsDeepfake, d.IsDeepfake)
		b.ConfidenceBp = append(b.ConfidenceBp, d.ConfidenceBp)
		b.IPHashes = append(b.IPHashes, ipHash)
		b.Countries = append(b.Countries, d.Country)
		b.Cities = append(b.Cities, d.City)
	}

	outs, err := s.chain.SubmitBatch(addr, b)
	if err != nil {
		writeChainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"results": outs})
}

type sightingRequest struct {
	ContentHash string `json:"content_hash"`
	IPHash      string `json:"ip_hash"`
	Country     string `json:"country"`
	City        string `json:"city"`
	Lat         int64  `json:"lat"`
	Lon         int64  `json:"lon"`
	Platform    string `json:"platform"`
	SourceURL   string `json:"source_url"`
}

func (s *Server) handleReportSighting(w http.ResponseWriter, r *http.Request) {
	addr, ok := caller(r)
	if !ok {
		WriteUnauthorized(w, "")
		return
	}
	var req sightingRequest
	if err := decodeValidated(r, compiledSighting, &req); err != nil {
		WriteBadRequest(w, err.Error())
		return
	}
	contentHash, err := contracts.ParseHash(req.ContentHash)
	if err != nil {
		WriteBadRequest(w, err.Error())
		return
	}
	var ipHash contracts.Hash
	if req.IPHash != "" {
		if ipHash, err = contracts.ParseHash(req.IPHash); err != nil {
			WriteBadRequest(w, err.Error())
			return
		}
	}

	out, err := s.chain.ReportSighting(addr, tracking.Sighting{
		ContentHash: contentHash,
		IPHash:      ipHash,
		Country:     req.Country,
		City:        req.City,
		Lat:         req.Lat,
		Lon:         req.Lon,
		Platform:    req.Platform,
		SourceURL:   req.SourceURL,
	})
	if err != nil {
		writeChainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, out)
}

type lineageRequest struct {
	ChildHash  string   `json:"child_hash"`
	ParentHash string   `json:"parent_hash"`
	Generation uint64   `json:"generation"`
	Mutations  []string `json:"mutations"`
}

func (s *Server) handleRegisterLineage(w http.ResponseWriter, r *http.Request) {
	addr, ok := caller(r)
	if !ok {
		WriteUnauthorized(w, "")
		return
	}
	var req lineageRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteBadRequest(w, err.Error())
		return
	}
	child, err := contracts.ParseHash(req.ChildHash)
	if err != nil {
		WriteBadRequest(w, err.Error())
		return
	}
	parent := contracts.ZeroHash
	if req.ParentHash != "" {
		if parent, err = contracts.ParseHash(req.ParentHash); err != nil {
			WriteBadRequest(w, err.Error())
			return
		}
	}
	if err := s.chain.RegisterLineage(addr, child, parent, req.Generation, req.Mutations); err != nil {
		writeChainError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, map[string]string{"status": "registered"})
}

func (s *Server) handleAckAlert(w http.ResponseWriter, r *http.Request) {
	addr, ok := caller(r)
	if !ok {
		WriteUnauthorized(w, "")
		return
	}
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		WriteBadRequest(w, "invalid alert id")
		return
	}
	if err := s.chain.AcknowledgeAlert(addr, id); err != nil {
		writeChainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "acknowledged"})
}

func (s *Server) handleAckBatch(w http.ResponseWriter, r *http.Request) {
	addr, ok := caller(r)
	if !ok {
		WriteUnauthorized(w, "")
		return
	}
	var req struct {
		IDs []uint64 `json:"ids"`
	}
	if err := decodeJSON(r, &req); err != nil {
		WriteBadRequest(w, err.Error())
		return
	}
	acked, err := s.chain.BatchAcknowledgeAlerts(addr, req.IDs)
	if err != nil {
		writeChainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"acknowledged": acked})
}

type nodeRequest struct {
	Address string `json:"address"`
	Name    string `json:"name"`
	Class   string `json:"class"`
}

func (s *Server) handleAuthorizeNode(w http.ResponseWriter, r *http.Request) {
	addr, ok := caller(r)
	if !ok {
		WriteUnauthorized(w, "")
		return
	}
	var req nodeRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteBadRequest(w, err.Error())
		return
	}
	class := contracts.NodeClass(req.Class)
	if class == "" {
		class = contracts.NodeClassEdge
	}
	if err := s.chain.AuthorizeNode(addr, contracts.Address(req.Address), req.Name, class); err != nil {
		writeChainError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, map[string]string{"status": "authorized"})
}

func (s *Server) handleDeauthorizeNode(w http.ResponseWriter, r *http.Request) {
	addr, ok := caller(r)
	if !ok {
		WriteUnauthorized(w, "")
		return
	}
	target := contracts.Address(r.PathValue("address"))
	if err := s.chain.DeauthorizeNode(addr, target); err != nil {
		writeChainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "deauthorized"})
}

func (s *Server) handleTransferOwnership(w http.ResponseWriter, r *http.Request) {
	addr, ok := caller(r)
	if !ok {
		WriteUnauthorized(w, "")
		return
	}
	var req struct {
		NewOwner string `json:"new_owner"`
	}
	if err := decodeJSON(r, &req); err != nil {
		WriteBadRequest(w, err.Error())
		return
	}
	if err := s.chain.TransferOwnership(addr, contracts.Address(req.NewOwner)); err != nil {
		writeChainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "transferred"})
}

func (s *Server) handleSetGlobalRules(w http.ResponseWriter, r *http.Request) {
	addr, ok := caller(r)
	if !ok {
		WriteUnauthorized(w, "")
		return
	}
	var rule contracts.AlertRule
	if err := decodeJSON(r, &rule); err != nil {
		WriteBadRequest(w, err.Error())
		return
	}
	if err := s.chain.SetGlobalRules(addr, rule); err != nil {
		writeChainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) handleSetVideoRules(w http.ResponseWriter, r *http.Request) {
	addr, ok := caller(r)
	if !ok {
		WriteUnauthorized(w, "")
		return
	}
	var req struct {
		ContentHash string              `json:"content_hash"`
		Rule        contracts.AlertRule `json:"rule"`
	}
	if err := decodeJSON(r, &req); err != nil {
		WriteBadRequest(w, err.Error())
		return
	}
	h, err := contracts.ParseHash(req.ContentHash)
	if err != nil {
		WriteBadRequest(w, err.Error())
		return
	}
	if err := s.chain.SetVideoRules(addr, h, req.Rule); err != nil {
		writeChainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) handleSetCooldown(w http.ResponseWriter, r *http.Request) {
	addr, ok := caller(r)
	if !ok {
		WriteUnauthorized(w, "")
		return
	}
	var req struct {
		Seconds int64 `json:"seconds"`
	}
	if err := decodeJSON(r, &req); err != nil {
		WriteBadRequest(w, err.Error())
		return
	}
	if req.Seconds < 0 {
		WriteBadRequest(w, "cooldown must be non-negative")
		return
	}
	if err := s.chain.SetAlertCooldown(addr, time.Duration(req.Seconds)*time.Second); err != nil {
		writeChainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}
