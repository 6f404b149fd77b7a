package graphql

import (
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	gqlgo "github.com/graph-gophers/graphql-go"
	"github.com/graph-gophers/graphql-transport-ws/graphqlws"
	"go.uber.org/zap"

	"github.com/zhouzirui/user-table/backend/pkg/utils"
)

// maxBodyBytes 限制单个请求体大小。
const maxBodyBytes = 1 << 20

// Handler GraphQL 服务的HTTP处理器
type Handler struct {
	schema *gqlgo.Schema
	logger *zap.Logger
}

// New 创建 GraphQL 处理器
func New(schema *gqlgo.Schema, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{schema: schema, logger: logger.Named("graphql")}
}

// RegisterRoutes 注册 GraphQL 路由；websocket 升级请求交给 graphql-ws 协议处理。
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Handle("/graphql", graphqlws.NewHandlerFunc(h.schema, http.HandlerFunc(h.handleQuery)))
}

type request struct {
	Query         string                 `json:"query"`
	OperationName string                 `json:"operationName"`
	Variables     map[string]interface{} `json:"variables"`
}

// handleQuery 执行 GET 或 POST 的 GraphQL 请求
func (h *Handler) handleQuery(w http.ResponseWriter, r *http.Request) {
	var (
		req request
		err error
	)
	switch r.Method {
	case http.MethodGet:
		req, err = decodeGet(r)
	case http.MethodPost:
		req, err = decodePost(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		utils.RespondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		utils.RespondError(w, http.StatusBadRequest, "query is required")
		return
	}

	resp := h.schema.Exec(r.Context(), req.Query, req.OperationName, req.Variables)
	if len(resp.Errors) > 0 {
		h.logger.Debug("graphql request returned errors",
			zap.String("operation", req.OperationName),
			zap.Int("errors", len(resp.Errors)),
			zap.String("first", resp.Errors[0].Message))
	}
	utils.RespondJSON(w, http.StatusOK, resp)
}

func decodeGet(r *http.Request) (request, error) {
	q := r.URL.Query()
	req := request{
		Query:         q.Get("query"),
		OperationName: q.Get("operationName"),
	}
	if raw := q.Get("variables"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &req.Variables); err != nil {
			return request{}, errInvalidVariables
		}
	}
	return req, nil
}

func decodePost(w http.ResponseWriter, r *http.Request) (request, error) {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	defer body.Close()

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/graphql" {
		raw, err := io.ReadAll(body)
		if err != nil {
			return request{}, errInvalidBody
		}
		return request{Query: string(raw)}, nil
	}

	var req request
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		return request{}, errInvalidBody
	}
	return req, nil
}

type requestError string

func (e requestError) Error() string { return string(e) }

const (
	errInvalidBody      = requestError("invalid request body")
	errInvalidVariables = requestError("variables must be a JSON object")
)
