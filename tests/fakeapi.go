package testutil

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
	"golang.org/x/crypto/bcrypt"
)

// Response shapes the fake backend can answer list requests with; the real
// backend is inconsistent across screens and the client must normalize all
// of them.
const (
	ShapeData  = "data"  // {"success": true, "data": [...], "pagination": {...}}
	ShapeBare  = "bare"  // [...]
	ShapeNamed = "named" // {"success": true, "<resource>": [...]}
	ShapeWeird = "weird" // recognizable by nothing; must degrade to empty
)

type (
	SeedUser struct {
		ID       string
		Name     string
		Username string
		Email    string
		Password string
	}

	BackendOptions struct {
		SecretKey []byte
		Users     []SeedUser
		// Shapes overrides the list response shape per resource;
		// unlisted resources use ShapeData.
		Shapes map[string]string
	}

	// Backend is an in-process stand-in for the school-management REST API:
	// bearer-authed resource CRUD with pagination and search, plus the two
	// session endpoints. State lives in in-memory tables.
	Backend struct {
		app  *echo.Echo
		opts BackendOptions

		mu     sync.RWMutex
		tables map[string][]map[string]interface{}
		users  []seededUser

		loginCalls    int32
		searchCalls   int32
		profileStatus int32 // forced profile status; 0 means behave normally
		loginLimited  int32 // answer 429 text/plain when non-zero
		failWrite     atomic.Value // *writeFailure
	}

	seededUser struct {
		SeedUser
		passwordHash []byte
	}

	writeFailure struct {
		code int
		msg  string
	}
)

func NewBackend(opts *BackendOptions) *Backend {
	if opts == nil {
		opts = &BackendOptions{}
	}
	if len(opts.SecretKey) == 0 {
		opts.SecretKey = []byte("test-secret")
	}

	b := &Backend{
		opts:   *opts,
		tables: make(map[string][]map[string]interface{}),
	}
	for _, su := range opts.Users {
		hash, err := bcrypt.GenerateFromPassword([]byte(su.Password), bcrypt.MinCost)
		if err != nil {
			panic(err)
		}
		if su.ID == "" {
			su.ID = uuid.New().String()
		}
		b.users = append(b.users, seededUser{SeedUser: su, passwordHash: hash})
	}

	app := echo.New()
	app.HideBanner = true
	app.Logger.SetLevel(log.OFF)

	app.POST("/auth/login", b.login)
	app.GET("/auth/profile", b.profile)
	app.GET("/:resource/search", b.search)
	app.GET("/:resource", b.list)
	app.POST("/:resource", b.create)
	app.PUT("/:resource/:id", b.update)
	app.DELETE("/:resource/:id", b.remove)

	b.app = app
	return b
}

func (b *Backend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.app.ServeHTTP(w, r)
}

// Seed replaces the named resource table. Records without an id get one.
func (b *Backend) Seed(resource string, recs ...map[string]interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	table := make([]map[string]interface{}, 0, len(recs))
	for _, rec := range recs {
		if _, ok := rec["id"]; !ok {
			rec["id"] = uuid.New().String()
		}
		table = append(table, rec)
	}
	b.tables[resource] = table
}

func (b *Backend) Table(resource string) []map[string]interface{} {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]map[string]interface{}(nil), b.tables[resource]...)
}

func (b *Backend) LoginCalls() int  { return int(atomic.LoadInt32(&b.loginCalls)) }
func (b *Backend) SearchCalls() int { return int(atomic.LoadInt32(&b.searchCalls)) }

// SetProfileStatus forces the profile endpoint to answer with the given
// status; 0 restores normal behavior.
func (b *Backend) SetProfileStatus(code int) {
	atomic.StoreInt32(&b.profileStatus, int32(code))
}

// SetLoginRateLimited makes the login endpoint answer 429 with a text/plain
// body, the way an upstream rate limiter would.
func (b *Backend) SetLoginRateLimited(limited bool) {
	var v int32
	if limited {
		v = 1
	}
	atomic.StoreInt32(&b.loginLimited, v)
}

// FailNextWrite makes the next create/update answer the given status and
// error message instead of persisting.
func (b *Backend) FailNextWrite(code int, msg string) {
	b.failWrite.Store(&writeFailure{code: code, msg: msg})
}

// Handlers

func (b *Backend) login(ctx echo.Context) error {
	atomic.AddInt32(&b.loginCalls, 1)

	if atomic.LoadInt32(&b.loginLimited) != 0 {
		return ctx.String(http.StatusTooManyRequests, "slow down")
	}

	var creds struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := ctx.Bind(&creds); err != nil {
		return ctx.JSON(http.StatusBadRequest, echo.Map{"success": false, "error": "malformed request"})
	}

	for _, su := range b.users {
		if su.Username != creds.Username {
			continue
		}
		if bcrypt.CompareHashAndPassword(su.passwordHash, []byte(creds.Password)) != nil {
			break
		}
		token, err := b.mintToken(su)
		if err != nil {
			return err
		}
		return ctx.JSON(http.StatusOK, echo.Map{"success": true, "token": token, "user": su.profile()})
	}
	return ctx.JSON(http.StatusBadRequest, echo.Map{"success": false, "error": "invalid credentials"})
}

func (b *Backend) profile(ctx echo.Context) error {
	if code := atomic.LoadInt32(&b.profileStatus); code != 0 {
		return ctx.JSON(int(code), echo.Map{"success": false, "error": "session expired"})
	}

	su, ok := b.authenticate(ctx)
	if !ok {
		return ctx.JSON(http.StatusUnauthorized, echo.Map{"success": false, "error": "user not authenticated"})
	}
	return ctx.JSON(http.StatusOK, echo.Map{"success": true, "data": su.profile()})
}

func (b *Backend) list(ctx echo.Context) error {
	if !b.authed(ctx) {
		return ctx.JSON(http.StatusUnauthorized, echo.Map{"success": false, "error": "user not authenticated"})
	}
	resource := ctx.Param("resource")

	page, _ := strconv.Atoi(ctx.QueryParam("page"))
	if page < 1 {
		page = 1
	}
	limit, _ := strconv.Atoi(ctx.QueryParam("limit"))
	if limit < 1 {
		limit = 25
	}
	search := strings.ToLower(ctx.QueryParam("search"))

	filters := make(map[string]string)
	for key, values := range ctx.QueryParams() {
		switch key {
		case "page", "limit", "search":
			continue
		}
		if len(values) > 0 && values[0] != "" {
			filters[key] = values[0]
		}
	}

	b.mu.RLock()
	matches := make([]map[string]interface{}, 0)
	for _, rec := range b.tables[resource] {
		if !matchesFilters(rec, filters) {
			continue
		}
		if search != "" && !matchesSearch(rec, search) {
			continue
		}
		matches = append(matches, rec)
	}
	b.mu.RUnlock()

	total := len(matches)
	pages := (total + limit - 1) / limit
	from := (page - 1) * limit
	if from > total {
		from = total
	}
	to := from + limit
	if to > total {
		to = total
	}
	items := matches[from:to]

	switch b.shape(resource) {
	case ShapeBare:
		return ctx.JSON(http.StatusOK, items)
	case ShapeNamed:
		return ctx.JSON(http.StatusOK, echo.Map{"success": true, resource: items})
	case ShapeWeird:
		return ctx.JSON(http.StatusOK, echo.Map{"success": true, "count": total})
	}
	return ctx.JSON(http.StatusOK, echo.Map{
		"success": true,
		"data":    items,
		"pagination": echo.Map{
			"total": total, "pages": pages, "page": page, "limit": limit,
		},
	})
}

func (b *Backend) create(ctx echo.Context) error {
	if !b.authed(ctx) {
		return ctx.JSON(http.StatusUnauthorized, echo.Map{"success": false, "error": "user not authenticated"})
	}
	if fail := b.takeWriteFailure(); fail != nil {
		return ctx.JSON(fail.code, echo.Map{"success": false, "error": fail.msg})
	}

	fields := map[string]interface{}{}
	if err := ctx.Bind(&fields); err != nil {
		return ctx.JSON(http.StatusBadRequest, echo.Map{"success": false, "error": "malformed request"})
	}
	fields["id"] = uuid.New().String()

	resource := ctx.Param("resource")
	b.mu.Lock()
	b.tables[resource] = append(b.tables[resource], fields)
	b.mu.Unlock()

	return ctx.JSON(http.StatusCreated, echo.Map{"success": true, "data": fields})
}

func (b *Backend) update(ctx echo.Context) error {
	if !b.authed(ctx) {
		return ctx.JSON(http.StatusUnauthorized, echo.Map{"success": false, "error": "user not authenticated"})
	}
	if fail := b.takeWriteFailure(); fail != nil {
		return ctx.JSON(fail.code, echo.Map{"success": false, "error": fail.msg})
	}

	fields := map[string]interface{}{}
	if err := ctx.Bind(&fields); err != nil {
		return ctx.JSON(http.StatusBadRequest, echo.Map{"success": false, "error": "malformed request"})
	}

	resource, id := ctx.Param("resource"), ctx.Param("id")
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, rec := range b.tables[resource] {
		if rec["id"] != id {
			continue
		}
		for key, value := range fields {
			if key == "id" {
				continue
			}
			rec[key] = value
		}
		return ctx.JSON(http.StatusOK, echo.Map{"success": true, "data": rec})
	}
	return ctx.JSON(http.StatusNotFound, echo.Map{"success": false, "error": "not found"})
}

func (b *Backend) remove(ctx echo.Context) error {
	if !b.authed(ctx) {
		return ctx.JSON(http.StatusUnauthorized, echo.Map{"success": false, "error": "user not authenticated"})
	}
	resource, id := ctx.Param("resource"), ctx.Param("id")

	b.mu.Lock()
	defer b.mu.Unlock()
	table := b.tables[resource]
	for i, rec := range table {
		if rec["id"] == id {
			b.tables[resource] = append(table[:i], table[i+1:]...)
			return ctx.JSON(http.StatusOK, echo.Map{"success": true})
		}
	}
	return ctx.JSON(http.StatusNotFound, echo.Map{"success": false, "error": "not found"})
}

func (b *Backend) search(ctx echo.Context) error {
	atomic.AddInt32(&b.searchCalls, 1)
	if !b.authed(ctx) {
		return ctx.JSON(http.StatusUnauthorized, echo.Map{"success": false, "error": "user not authenticated"})
	}
	resource := ctx.Param("resource")
	query := strings.ToLower(ctx.QueryParam("query"))

	b.mu.RLock()
	matches := make([]map[string]interface{}, 0)
	for _, rec := range b.tables[resource] {
		if query == "" || matchesSearch(rec, query) {
			matches = append(matches, rec)
		}
	}
	b.mu.RUnlock()

	return ctx.JSON(http.StatusOK, echo.Map{"success": true, "data": matches})
}

// internals

func (b *Backend) mintToken(su seededUser) (string, error) {
	claims := jwt.StandardClaims{
		Subject:   su.ID,
		IssuedAt:  time.Now().Unix(),
		ExpiresAt: time.Now().Add(time.Hour).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(b.opts.SecretKey)
}

func (b *Backend) authenticate(ctx echo.Context) (seededUser, bool) {
	header := ctx.Request().Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return seededUser{}, false
	}
	var claims jwt.StandardClaims
	token, err := jwt.ParseWithClaims(
		strings.TrimPrefix(header, "Bearer "), &claims,
		func(*jwt.Token) (interface{}, error) { return b.opts.SecretKey, nil },
	)
	if err != nil || !token.Valid {
		return seededUser{}, false
	}
	for _, su := range b.users {
		if su.ID == claims.Subject {
			return su, true
		}
	}
	return seededUser{}, false
}

func (b *Backend) authed(ctx echo.Context) bool {
	_, ok := b.authenticate(ctx)
	return ok
}

func (b *Backend) shape(resource string) string {
	if shape, ok := b.opts.Shapes[resource]; ok {
		return shape
	}
	return ShapeData
}

func (b *Backend) takeWriteFailure() *writeFailure {
	if fail, ok := b.failWrite.Load().(*writeFailure); ok && fail != nil {
		b.failWrite.Store((*writeFailure)(nil))
		return fail
	}
	return nil
}

func (su seededUser) profile() map[string]interface{} {
	return map[string]interface{}{
		"id":       su.ID,
		"name":     su.Name,
		"username": su.Username,
		"email":    su.Email,
	}
}

func matchesFilters(rec map[string]interface{}, filters map[string]string) bool {
	for key, want := range filters {
		got, ok := rec[key]
		if !ok {
			return false
		}
		switch v := got.(type) {
		case string:
			if v != want {
				return false
			}
		case float64:
			if strconv.FormatFloat(v, 'f', -1, 64) != want {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func matchesSearch(rec map[string]interface{}, query string) bool {
	for _, value := range rec {
		if s, ok := value.(string); ok && strings.Contains(strings.ToLower(s), query) {
			return true
		}
	}
	return false
}
