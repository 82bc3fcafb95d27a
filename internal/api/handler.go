package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/djlord-it/arc-companion/internal/domain"
	"github.com/djlord-it/arc-companion/internal/metaforge"
	"github.com/djlord-it/arc-companion/internal/refresher"
	"github.com/djlord-it/arc-companion/internal/store/sqlstore"
)

// Pagination defaults and limits.
const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// Board exposes the latest countdown snapshot.
type Board interface {
	Latest() (domain.Snapshot, bool)
	Subscribe(ctx context.Context) <-chan domain.Snapshot
}

// Controller triggers the load and retry commands.
type Controller interface {
	Load(ctx context.Context)
	Retry(ctx context.Context)
}

// ContentStore serves locally cached items and quests and keeps quest
// tracking state. Lookups and updates of unknown ids return
// sqlstore.ErrNotFound.
type ContentStore interface {
	ListItems(ctx context.Context, f sqlstore.ItemFilter) ([]domain.Item, error)
	GetItem(ctx context.Context, id string) (domain.Item, error)
	ListQuests(ctx context.Context, f sqlstore.QuestFilter) ([]domain.Quest, error)
	GetQuest(ctx context.Context, id string) (domain.Quest, error)
	SetQuestCompleted(ctx context.Context, id string, completed bool) error
	SetQuestProgress(ctx context.Context, id string, progress int) error
	ResetQuests(ctx context.Context) error
	GetState(ctx context.Context, key string) (sqlstore.State, error)
}

// Catalog reads game reference data from the upstream API. Unknown ids
// return metaforge.ErrNotFound.
type Catalog interface {
	Item(ctx context.Context, id string) (domain.Item, error)
	Quest(ctx context.Context, id string) (domain.Quest, error)
	Events(ctx context.Context) ([]domain.GameEvent, error)
	Maps(ctx context.Context) ([]domain.GameMap, error)
	Map(ctx context.Context, id string) (domain.GameMap, error)
	Crafting(ctx context.Context) ([]domain.CraftingRecipe, error)
	CraftingRecipe(ctx context.Context, id string) (domain.CraftingRecipe, error)
	Traders(ctx context.Context) ([]domain.Trader, error)
	Arcs(ctx context.Context) ([]domain.Arc, error)
}

// HealthChecker provides component health status for the /health endpoint.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	router  *mux.Router
	board   Board
	control Controller
	content ContentStore             // optional, nil = content routes return 503
	catalog Catalog                  // optional, nil = catalog routes return 503
	checks  map[string]HealthChecker // optional
}

func NewHandler(board Board, control Controller) *Handler {
	h := &Handler{
		board:   board,
		control: control,
		checks:  make(map[string]HealthChecker),
	}
	h.router = h.routes()
	return h
}

// WithContent attaches the local content store.
func (h *Handler) WithContent(store ContentStore) *Handler {
	h.content = store
	return h
}

// WithCatalog attaches the upstream catalog. Item and quest lookups fall
// back to it for ids missing from the content store.
func (h *Handler) WithCatalog(c Catalog) *Handler {
	h.catalog = c
	return h
}

// WithHealthCheck registers a component pinged by verbose /health requests.
func (h *Handler) WithHealthCheck(name string, c HealthChecker) *Handler {
	h.checks[name] = c
	return h
}

func (h *Handler) routes() *mux.Router {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.HandleFunc("/health", h.health).Methods(http.MethodGet)

	timers := r.PathPrefix("/timers").Subrouter()
	timers.HandleFunc("", h.getTimers).Methods(http.MethodGet)
	timers.HandleFunc("/stream", h.streamTimers).Methods(http.MethodGet)
	timers.HandleFunc("/load", h.loadTimers).Methods(http.MethodPost)
	timers.HandleFunc("/retry", h.retryTimers).Methods(http.MethodPost)

	r.HandleFunc("/items", h.listItems).Methods(http.MethodGet)
	r.HandleFunc("/items/{id}", h.getItem).Methods(http.MethodGet)
	r.HandleFunc("/quests", h.listQuests).Methods(http.MethodGet)
	r.HandleFunc("/quests/reset", h.resetQuests).Methods(http.MethodPost)
	r.HandleFunc("/quests/{id}", h.getQuest).Methods(http.MethodGet)
	r.HandleFunc("/quests/{id}", h.updateQuest).Methods(http.MethodPatch)

	r.HandleFunc("/events", h.listEvents).Methods(http.MethodGet)
	r.HandleFunc("/maps", h.listMaps).Methods(http.MethodGet)
	r.HandleFunc("/maps/{id}", h.getMap).Methods(http.MethodGet)
	r.HandleFunc("/crafting", h.listRecipes).Methods(http.MethodGet)
	r.HandleFunc("/crafting/{id}", h.getRecipe).Methods(http.MethodGet)
	r.HandleFunc("/traders", h.listTraders).Methods(http.MethodGet)
	r.HandleFunc("/arcs", h.listArcs).Methods(http.MethodGet)
	return r
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

// HealthResponse represents the /health endpoint response.
type HealthResponse struct {
	Status      string            `json:"status"`
	Components  map[string]string `json:"components,omitempty"`
	LastRefresh string            `json:"last_refresh,omitempty"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	verbose := r.URL.Query().Get("verbose") == "true"

	if !verbose || (len(h.checks) == 0 && h.content == nil) {
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
		return
	}

	resp := HealthResponse{
		Status:     "ok",
		Components: make(map[string]string),
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := h.checks[name].Ping(ctx); err != nil {
			resp.Status = "degraded"
			resp.Components[name] = "unhealthy: " + err.Error()
		} else {
			resp.Components[name] = "healthy"
		}
	}

	if h.content != nil {
		if st, err := h.content.GetState(ctx, refresher.StateLastRefresh); err == nil {
			resp.LastRefresh = formatTime(st.UpdatedAt)
		}
	}

	statusCode := http.StatusOK
	if resp.Status == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, statusCode, resp)
}

func (h *Handler) getTimers(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.board.Latest()
	if !ok {
		writeJSON(w, http.StatusOK, SnapshotResponse{State: string(domain.SnapshotLoading), Timers: []TimerResponse{}})
		return
	}
	writeJSON(w, http.StatusOK, NewSnapshotResponse(snap))
}

func (h *Handler) loadTimers(w http.ResponseWriter, r *http.Request) {
	h.control.Load(r.Context())
	h.getTimers(w, r)
}

func (h *Handler) retryTimers(w http.ResponseWriter, r *http.Request) {
	h.control.Retry(r.Context())
	h.getTimers(w, r)
}

// streamTimers writes one server-sent event per published snapshot until
// the client goes away. Slow clients skip intermediate snapshots.
func (h *Handler) streamTimers(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for snap := range h.board.Subscribe(r.Context()) {
		data, err := json.Marshal(NewSnapshotResponse(snap))
		if err != nil {
			log.Printf("api: stream encode error: %v", err)
			return
		}
		if _, err := fmt.Fprintf(w, "id: %d\nevent: snapshot\ndata: %s\n\n", snap.Seq, data); err != nil {
			return
		}
		flusher.Flush()
	}
}

func (h *Handler) listItems(w http.ResponseWriter, r *http.Request) {
	if !h.requireContent(w) {
		return
	}
	limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	q := r.URL.Query()
	filter := sqlstore.ItemFilter{
		Category: q.Get("category"),
		Query:    q.Get("q"),
		Limit:    limit,
		Offset:   offset,
	}
	if err := validateItemFilter(filter); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	items, err := h.content.ListItems(r.Context(), filter)
	if err != nil {
		log.Printf("api: list items error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list items")
		return
	}
	if items == nil {
		items = []domain.Item{}
	}
	writeJSON(w, http.StatusOK, ListItemsResponse{Items: items})
}

func (h *Handler) getItem(w http.ResponseWriter, r *http.Request) {
	if h.content == nil && h.catalog == nil {
		writeError(w, http.StatusServiceUnavailable, "content store not configured")
		return
	}
	id := mux.Vars(r)["id"]
	if err := validateID(id); err != nil {
		writeError(w, http.StatusBadRequest, "invalid item id")
		return
	}

	if h.content != nil {
		item, err := h.content.GetItem(r.Context(), id)
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, item)
			return
		case !errors.Is(err, sqlstore.ErrNotFound):
			log.Printf("api: get item error: %v", err)
			writeError(w, http.StatusInternalServerError, "failed to get item")
			return
		case h.catalog == nil:
			writeError(w, http.StatusNotFound, "item not found")
			return
		}
	}

	item, err := h.catalog.Item(r.Context(), id)
	if err != nil {
		writeCatalogError(w, "item", err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (h *Handler) listQuests(w http.ResponseWriter, r *http.Request) {
	if !h.requireContent(w) {
		return
	}
	limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	filter := sqlstore.QuestFilter{Limit: limit, Offset: offset}
	if v := r.URL.Query().Get("completed"); v != "" {
		completed, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "completed must be true or false")
			return
		}
		filter.Completed = &completed
	}

	quests, err := h.content.ListQuests(r.Context(), filter)
	if err != nil {
		log.Printf("api: list quests error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list quests")
		return
	}
	if quests == nil {
		quests = []domain.Quest{}
	}
	writeJSON(w, http.StatusOK, ListQuestsResponse{Quests: quests})
}

func (h *Handler) getQuest(w http.ResponseWriter, r *http.Request) {
	if h.content == nil && h.catalog == nil {
		writeError(w, http.StatusServiceUnavailable, "content store not configured")
		return
	}
	id := mux.Vars(r)["id"]
	if err := validateID(id); err != nil {
		writeError(w, http.StatusBadRequest, "invalid quest id")
		return
	}

	if h.content != nil {
		quest, err := h.content.GetQuest(r.Context(), id)
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, quest)
			return
		case !errors.Is(err, sqlstore.ErrNotFound):
			log.Printf("api: get quest error: %v", err)
			writeError(w, http.StatusInternalServerError, "failed to get quest")
			return
		case h.catalog == nil:
			writeError(w, http.StatusNotFound, "quest not found")
			return
		}
	}

	quest, err := h.catalog.Quest(r.Context(), id)
	if err != nil {
		writeCatalogError(w, "quest", err)
		return
	}
	writeJSON(w, http.StatusOK, quest)
}

// maxRequestBodySize is the maximum allowed request body size (64KB).
const maxRequestBodySize = 1 << 16

// updateQuest applies completion and progress changes, then returns the
// stored quest.
func (h *Handler) updateQuest(w http.ResponseWriter, r *http.Request) {
	if !h.requireContent(w) {
		return
	}
	id := mux.Vars(r)["id"]
	if err := validateID(id); err != nil {
		writeError(w, http.StatusBadRequest, "invalid quest id")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	var req UpdateQuestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := validateQuestUpdate(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	var err error
	if req.Completed != nil {
		err = h.content.SetQuestCompleted(ctx, id, *req.Completed)
	}
	if err == nil && req.Progress != nil {
		err = h.content.SetQuestProgress(ctx, id, *req.Progress)
	}
	if err != nil {
		switch {
		case errors.Is(err, sqlstore.ErrNotFound):
			writeError(w, http.StatusNotFound, "quest not found")
		case errors.Is(err, sqlstore.ErrInvalidProgress):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			log.Printf("api: update quest error: %v", err)
			writeError(w, http.StatusInternalServerError, "failed to update quest")
		}
		return
	}

	quest, err := h.content.GetQuest(ctx, id)
	if err != nil {
		log.Printf("api: get quest error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to get quest")
		return
	}
	writeJSON(w, http.StatusOK, quest)
}

func (h *Handler) resetQuests(w http.ResponseWriter, r *http.Request) {
	if !h.requireContent(w) {
		return
	}
	if err := h.content.ResetQuests(r.Context()); err != nil {
		log.Printf("api: reset quests error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to reset quests")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listEvents(w http.ResponseWriter, r *http.Request) {
	if !h.requireCatalog(w) {
		return
	}
	events, err := h.catalog.Events(r.Context())
	if err != nil {
		writeCatalogError(w, "events", err)
		return
	}
	writeJSON(w, http.StatusOK, ListEventsResponse{Events: nonNil(events)})
}

func (h *Handler) listMaps(w http.ResponseWriter, r *http.Request) {
	if !h.requireCatalog(w) {
		return
	}
	maps, err := h.catalog.Maps(r.Context())
	if err != nil {
		writeCatalogError(w, "maps", err)
		return
	}
	writeJSON(w, http.StatusOK, ListMapsResponse{Maps: nonNil(maps)})
}

func (h *Handler) getMap(w http.ResponseWriter, r *http.Request) {
	if !h.requireCatalog(w) {
		return
	}
	id := mux.Vars(r)["id"]
	if err := validateID(id); err != nil {
		writeError(w, http.StatusBadRequest, "invalid map id")
		return
	}
	m, err := h.catalog.Map(r.Context(), id)
	if err != nil {
		writeCatalogError(w, "map", err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *Handler) listRecipes(w http.ResponseWriter, r *http.Request) {
	if !h.requireCatalog(w) {
		return
	}
	recipes, err := h.catalog.Crafting(r.Context())
	if err != nil {
		writeCatalogError(w, "recipes", err)
		return
	}
	writeJSON(w, http.StatusOK, ListRecipesResponse{Recipes: nonNil(recipes)})
}

func (h *Handler) getRecipe(w http.ResponseWriter, r *http.Request) {
	if !h.requireCatalog(w) {
		return
	}
	id := mux.Vars(r)["id"]
	if err := validateID(id); err != nil {
		writeError(w, http.StatusBadRequest, "invalid recipe id")
		return
	}
	recipe, err := h.catalog.CraftingRecipe(r.Context(), id)
	if err != nil {
		writeCatalogError(w, "recipe", err)
		return
	}
	writeJSON(w, http.StatusOK, recipe)
}

func (h *Handler) listTraders(w http.ResponseWriter, r *http.Request) {
	if !h.requireCatalog(w) {
		return
	}
	traders, err := h.catalog.Traders(r.Context())
	if err != nil {
		writeCatalogError(w, "traders", err)
		return
	}
	writeJSON(w, http.StatusOK, ListTradersResponse{Traders: nonNil(traders)})
}

func (h *Handler) listArcs(w http.ResponseWriter, r *http.Request) {
	if !h.requireCatalog(w) {
		return
	}
	arcs, err := h.catalog.Arcs(r.Context())
	if err != nil {
		writeCatalogError(w, "arcs", err)
		return
	}
	writeJSON(w, http.StatusOK, ListArcsResponse{Arcs: nonNil(arcs)})
}

func (h *Handler) requireCatalog(w http.ResponseWriter) bool {
	if h.catalog == nil {
		writeError(w, http.StatusServiceUnavailable, "catalog not configured")
		return false
	}
	return true
}

// writeCatalogError maps upstream failures. Detail stays in the log.
func writeCatalogError(w http.ResponseWriter, what string, err error) {
	if errors.Is(err, metaforge.ErrNotFound) {
		writeError(w, http.StatusNotFound, what+" not found")
		return
	}
	log.Printf("api: fetch %s error: %v", what, err)
	writeError(w, http.StatusBadGateway, "failed to fetch "+what)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func (h *Handler) requireContent(w http.ResponseWriter) bool {
	if h.content == nil {
		writeError(w, http.StatusServiceUnavailable, "content store not configured")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: json encode error: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// parsePagination extracts and validates limit/offset query parameters.
// Returns DefaultLimit if limit is not specified, and 0 for offset if not specified.
// Returns an error if limit exceeds MaxLimit or if values are negative/invalid.
func parsePagination(r *http.Request) (limit, offset int, err error) {
	limit = DefaultLimit
	offset = 0

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err = strconv.Atoi(limitStr)
		if err != nil {
			return 0, 0, err
		}
		if limit < 0 {
			return 0, 0, strconv.ErrRange
		}
		if limit > MaxLimit {
			return 0, 0, &limitExceededError{max: MaxLimit}
		}
		if limit == 0 {
			limit = DefaultLimit
		}
	}

	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		offset, err = strconv.Atoi(offsetStr)
		if err != nil {
			return 0, 0, err
		}
		if offset < 0 {
			return 0, 0, strconv.ErrRange
		}
	}

	return limit, offset, nil
}

type limitExceededError struct {
	max int
}

func (e *limitExceededError) Error() string {
	return "limit exceeds maximum of " + strconv.Itoa(e.max)
}
