package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/satriahrh/speechgate/domain/entities"
	"github.com/satriahrh/speechgate/domain/repositories"
	"github.com/satriahrh/speechgate/internal/websocket"
	"github.com/satriahrh/speechgate/usecase"
)

const (
	serviceName        = "speechgate"
	maxMultipartMemory = 32 << 20
)

// Dependencies are the services the routes are served from
type Dependencies struct {
	Hub           *websocket.Hub
	Transcription *usecase.TranscriptionService
	Archive       *usecase.TranscriptArchive
	Uploads       *UploadStore
	ProxyURL      string
	StaticDir     string
	// MetricsHandler serves /metrics, promhttp.Handler() when nil
	MetricsHandler http.Handler
	Logger         *zap.Logger
}

type handlers struct {
	Dependencies
	validate *validator.Validate
}

// InitRoutes initializes all API routes
func InitRoutes(e *echo.Echo, deps Dependencies) {
	h := &handlers{Dependencies: deps, validate: validator.New(validator.WithRequiredStructEnabled())}

	e.GET("/health", h.health)

	metricsHandler := deps.MetricsHandler
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	e.GET("/metrics", echo.WrapHandler(metricsHandler))

	// Streaming recognition
	e.GET("/ws", deps.Hub.HandleWebSocket)

	// Batch recognition proxy
	speech := e.Group("/api")
	speech.POST("/speech/:version", h.recognize)
	speech.POST("/speech/:version/upload", h.recognizeUpload)
	speech.POST("/groq/transcribe", h.groqTranscribe)
	speech.POST("/azure/transcribe", h.azureTranscribe)

	// Transcript archive
	v1 := e.Group("/api/v1")
	v1.GET("/transcripts", h.listTranscripts)
	v1.GET("/transcripts/:sessionId", h.getTranscript)

	if deps.StaticDir != "" {
		e.Static("/", deps.StaticDir)
	}
}

func (h *handlers) health(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{
		Status:   "ok",
		Service:  serviceName,
		Proxy:    h.ProxyURL,
		Sessions: h.Hub.SessionCount(),
		Clients:  h.Hub.ClientCount(),
	})
}

func (h *handlers) recognize(c echo.Context) error {
	var body map[string]any
	if err := json.NewDecoder(c.Request().Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		return errorJSON(c, http.StatusBadRequest, "Invalid JSON body")
	}

	resp, err := h.Transcription.Recognize(c.Request().Context(), usecase.SpeechRequest{
		Version:      c.Param("version"),
		QueryKey:     c.QueryParam("key"),
		QueryProject: c.QueryParam("project"),
		QueryRegion:  c.QueryParam("region"),
		Body:         body,
	})
	if err != nil {
		return h.fail(c, err)
	}
	return forward(c, resp)
}

func (h *handlers) recognizeUpload(c echo.Context) error {
	var audio []byte
	if file, err := c.FormFile("audio"); err == nil {
		path, err := h.Uploads.Save(file)
		if err != nil {
			return h.fail(c, err)
		}
		defer func() {
			if err := h.Uploads.Remove(path); err != nil {
				h.Logger.Warn("Failed to delete temporary file", zap.String("path", path), zap.Error(err))
			}
		}()

		if audio, err = os.ReadFile(path); err != nil {
			return h.fail(c, err)
		}
		h.Logger.Debug("Audio uploaded",
			zap.String("fileName", file.Filename),
			zap.String("detectedType", mimetype.Detect(audio).String()),
			zap.Int("bytes", len(audio)))
	}

	apiKey := firstNonEmpty(c.FormValue("apiKey"), c.QueryParam("key"))
	var serviceAccount []byte
	if raw := c.FormValue("serviceAccount"); raw != "" {
		if json.Valid([]byte(raw)) {
			serviceAccount = []byte(raw)
		} else {
			h.Logger.Warn("Ignoring unreadable service account in upload")
		}
	}

	resp, err := h.Transcription.RecognizeUpload(c.Request().Context(), usecase.UploadRequest{
		Version:        c.Param("version"),
		APIKey:         apiKey,
		ServiceAccount: serviceAccount,
		ProjectID:      firstNonEmpty(c.QueryParam("project"), c.FormValue("projectId")),
		Region:         firstNonEmpty(c.QueryParam("region"), c.FormValue("region")),
		Audio:          audio,
		LanguageCode:   c.FormValue("languageCode"),
		LanguageCodes:  formValues(c, "languageCodes[]"),
		Model:          c.FormValue("model"),
		RequestData:    c.FormValue("requestData"),
	})
	if err != nil {
		return h.fail(c, err)
	}
	return forward(c, resp)
}

func (h *handlers) groqTranscribe(c echo.Context) error {
	var req GroqTranscribeRequest
	var audio []byte

	if isMultipart(c) {
		data, name, err := readFormFile(c, "file", "audio")
		if err != nil {
			return errorJSON(c, http.StatusBadRequest, "No audio file uploaded")
		}
		audio = data
		req = GroqTranscribeRequest{
			APIKey:   c.FormValue("apiKey"),
			FileName: name,
			FileType: c.FormValue("fileType"),
			Model:    c.FormValue("model"),
			Language: c.FormValue("language"),
			Prompt:   c.FormValue("prompt"),
		}
	} else {
		if err := h.bindJSON(c, &req); err != nil {
			return h.fail(c, err)
		}
		audio, _ = base64.StdEncoding.DecodeString(req.Content)
	}

	resp, err := h.Transcription.TranscribeGroq(c.Request().Context(), repositories.BatchRequest{
		APIKey:   firstNonEmpty(req.APIKey, c.QueryParam("key")),
		Audio:    audio,
		FileName: req.FileName,
		Format:   entities.ResolveAudioFormat(audio, req.FileType, req.FileName),
		Model:    req.Model,
		Language: req.Language,
		Prompt:   req.Prompt,
	})
	if err != nil {
		return h.fail(c, err)
	}
	return forward(c, resp)
}

func (h *handlers) azureTranscribe(c echo.Context) error {
	var req AzureTranscribeRequest
	var audio []byte

	if isMultipart(c) {
		data, _, err := readFormFile(c, "audio", "file")
		if err != nil {
			return errorJSON(c, http.StatusBadRequest, "No audio file uploaded")
		}
		audio = data
		req = AzureTranscribeRequest{
			APIKey:      c.FormValue("apiKey"),
			Region:      c.FormValue("region"),
			Language:    c.FormValue("language"),
			Format:      c.FormValue("format"),
			ContentType: c.FormValue("contentType"),
		}
	} else {
		if err := h.bindJSON(c, &req); err != nil {
			return h.fail(c, err)
		}
		audio, _ = base64.StdEncoding.DecodeString(req.Content)
	}

	apiKey := firstNonEmpty(req.APIKey, c.Request().Header.Get("Ocp-Apim-Subscription-Key"), c.QueryParam("key"))
	resp, err := h.Transcription.TranscribeAzure(c.Request().Context(), repositories.ShortAudioRequest{
		APIKey:      apiKey,
		Region:      firstNonEmpty(req.Region, c.QueryParam("region")),
		Language:    req.Language,
		Format:      req.Format,
		ContentType: req.ContentType,
		Audio:       audio,
	})
	if err != nil {
		return h.fail(c, err)
	}
	return forward(c, resp)
}

func (h *handlers) listTranscripts(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	records, err := h.Archive.List(c.Request().Context(), limit)
	if err != nil {
		h.Logger.Error("Failed to list transcripts", zap.Error(err))
		return errorJSON(c, http.StatusInternalServerError, "Failed to list transcripts")
	}
	if records == nil {
		records = []entities.TranscriptRecord{}
	}
	return c.JSON(http.StatusOK, TranscriptListResponse{Transcripts: records, Count: len(records)})
}

func (h *handlers) getTranscript(c echo.Context) error {
	record, err := h.Archive.Get(c.Request().Context(), c.Param("sessionId"))
	if err != nil {
		if usecase.IsNotFound(err) {
			return errorJSON(c, http.StatusNotFound, "transcript not found")
		}
		h.Logger.Error("Failed to get transcript", zap.String("sessionID", c.Param("sessionId")), zap.Error(err))
		return errorJSON(c, http.StatusInternalServerError, "Failed to get transcript")
	}
	return c.JSON(http.StatusOK, record)
}

func (h *handlers) bindJSON(c echo.Context, v any) error {
	if err := json.NewDecoder(c.Request().Body).Decode(v); err != nil {
		return entities.NewProtocolError("Invalid JSON body", err)
	}
	if err := h.validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			field := verrs[0].Field()
			if field == "Content" {
				return entities.NewValidationError("audio content is required")
			}
			return entities.NewValidationError(strings.ToLower(field[:1]) + field[1:] + " is invalid")
		}
		return entities.NewValidationError(err.Error())
	}
	return nil
}

// fail maps an error to the proxy error body. Client mistakes are 400, anything else 500.
func (h *handlers) fail(c echo.Context, err error) error {
	switch entities.KindOf(err) {
	case entities.ErrorKindValidation, entities.ErrorKindProtocol:
		var e *entities.Error
		errors.As(err, &e)
		return errorJSON(c, http.StatusBadRequest, e.Message)
	default:
		h.Logger.Error("Proxy error", zap.String("path", c.Path()), zap.Error(err))
		return errorJSON(c, http.StatusInternalServerError, "Proxy error: "+entities.ClientMessage(err))
	}
}

func errorJSON(c echo.Context, status int, message string) error {
	return c.JSON(status, ErrorResponse{Error: ErrorBody{Code: status, Message: message}})
}

// forward writes the provider answer exactly as received
func forward(c echo.Context, resp *repositories.ProviderResponse) error {
	contentType := resp.ContentType
	if contentType == "" {
		contentType = echo.MIMEApplicationJSON
	}
	return c.Blob(resp.StatusCode, contentType, resp.Body)
}

func isMultipart(c echo.Context) bool {
	return strings.HasPrefix(c.Request().Header.Get(echo.HeaderContentType), echo.MIMEMultipartForm)
}

// readFormFile reads the first present file field of a multipart request
func readFormFile(c echo.Context, fields ...string) ([]byte, string, error) {
	if err := c.Request().ParseMultipartForm(maxMultipartMemory); err != nil {
		return nil, "", err
	}
	for _, field := range fields {
		file, err := c.FormFile(field)
		if err != nil {
			continue
		}
		data, err := readFileHeader(file)
		return data, file.Filename, err
	}
	return nil, "", http.ErrMissingFile
}

func readFileHeader(file *multipart.FileHeader) ([]byte, error) {
	src, err := file.Open()
	if err != nil {
		return nil, err
	}
	defer src.Close()
	return io.ReadAll(src)
}

func formValues(c echo.Context, key string) []string {
	form, err := c.MultipartForm()
	if err != nil || form == nil {
		return nil
	}
	return form.Value[key]
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
