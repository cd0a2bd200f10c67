package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/BerylCAtieno/medical-report-analyzer/internal/models"
	"github.com/BerylCAtieno/medical-report-analyzer/internal/services"
	"github.com/BerylCAtieno/medical-report-analyzer/internal/utils"
)

// maxTextBytes bounds the JSON body of a pasted report.
const maxTextBytes = 1 << 20

type ReportHandler struct {
	service        services.ReportService
	maxUploadBytes int64
	logger         *utils.Logger
}

func NewReportHandler(service services.ReportService, maxUploadBytes int64, logger *utils.Logger) *ReportHandler {
	return &ReportHandler{
		service:        service,
		maxUploadBytes: maxUploadBytes,
		logger:         logger,
	}
}

func (h *ReportHandler) AnalyzeReport(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxTextBytes)

	var req models.AnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.respondError(w, utils.NewBadRequestError("Report text exceeds 1MB limit"))
			return
		}
		h.respondError(w, utils.NewBadRequestError("Invalid JSON body"))
		return
	}

	result, err := h.service.Analyze(r.Context(), req.Text)
	if err != nil {
		h.respondError(w, err)
		return
	}

	h.respondResult(w, result, req.Debug)
}

func (h *ReportHandler) UploadReport(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength > h.maxUploadBytes {
		h.respondError(w, utils.NewBadRequestError("File size exceeds upload limit"))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)

	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.respondError(w, utils.NewBadRequestError("File size exceeds upload limit"))
			return
		}
		h.respondError(w, utils.NewBadRequestError("Invalid form data"))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		h.respondError(w, utils.NewBadRequestError("No file provided"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		h.respondError(w, utils.NewInternalError("Failed to read file"))
		return
	}

	if len(data) == 0 {
		h.respondError(w, utils.NewBadRequestError("Uploaded file is empty"))
		return
	}

	h.logger.Info("Report upload",
		"filename", header.Filename,
		"content_type", header.Header.Get("Content-Type"),
		"size", len(data))

	debug := r.FormValue("debug") == "true"
	result, err := h.service.AnalyzeUpload(r.Context(), &models.UploadRequest{
		File:        data,
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Debug:       debug,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}

	h.respondResult(w, result, debug)
}

// NotFound answers unknown routes with the JSON error shape used everywhere else.
func (h *ReportHandler) NotFound(w http.ResponseWriter, r *http.Request) {
	h.respondError(w, utils.NewNotFoundError("Route not found"))
}

func (h *ReportHandler) respondResult(w http.ResponseWriter, result *models.AnalysisResult, debug bool) {
	if !debug {
		result.NormalizedText = ""
	}
	h.respondJSON(w, http.StatusOK, result)
}

func (h *ReportHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	writeJSON(w, h.logger, status, data)
}

func writeJSON(w http.ResponseWriter, logger *utils.Logger, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("Failed to encode JSON response", "error", err)
	}
}

func (h *ReportHandler) respondError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	message := "Internal server error"

	if appErr, ok := utils.AsAppError(err); ok {
		status = appErr.StatusCode
		message = appErr.Message
	}

	// Input problems are the caller's; only server-side failures are errors here.
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request error", "status", status, "error", err)
	} else {
		h.logger.Warn("Request rejected", "status", status, "error", message)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
