package testkit

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

// FakeToken is the bearer token issued by FakeGateway logins.
const FakeToken = "fake-jwt-token-123"

// storeLayout mirrors the timestamp format of the real history store.
const storeLayout = "2006-01-02 15:04:05"

// historyLimit is how many entries a history listing returns.
const historyLimit = 20

type failure struct {
	status    int
	detail    string
	remaining int // <= 0 means every call fails
}

type cannedResponse struct {
	status int
	body   string
}

type fakeUser struct {
	password string
	fullName string
}

type fakeRecord struct {
	ID        int                    `json:"id"`
	Type      string                 `json:"type"`
	Timestamp string                 `json:"timestamp"`
	Inputs    map[string]interface{} `json:"inputs"`
	Results   map[string]interface{} `json:"results"`
}

// FakeGateway is an in-memory inference gateway served over HTTP. It speaks the
// same JSON contract as the real service with deterministic arithmetic in
// place of the statistics.
type FakeGateway struct {
	server *httptest.Server

	mu         sync.Mutex
	edges      map[string][][]string
	delays     map[string]time.Duration
	failures   map[string]*failure
	canned     map[string]cannedResponse
	omitBounds bool
	narrative  string
	users      map[string]fakeUser
	history    map[string][]fakeRecord
	nextID     int
	calls      map[string]int
	auth       map[string]string
	uploads    map[string][]byte
	clock      func() time.Time
}

// NewFakeGateway starts a fake gateway that is shut down when the test ends.
func NewFakeGateway(t testing.TB) *FakeGateway {
	t.Helper()
	gin.SetMode(gin.TestMode)

	g := &FakeGateway{
		edges:    map[string][][]string{},
		delays:   map[string]time.Duration{},
		failures: map[string]*failure{},
		canned:   map[string]cannedResponse{},
		users:    map[string]fakeUser{},
		history:  map[string][]fakeRecord{},
		calls:    map[string]int{},
		auth:     map[string]string{},
		uploads:  map[string][]byte{},
		clock:    time.Now,
	}
	g.server = httptest.NewServer(g.routes())
	t.Cleanup(g.server.Close)
	return g
}

// URL is the root the client should be pointed at.
func (g *FakeGateway) URL() string { return g.server.URL }

// Client returns an HTTP client bound to the fake server.
func (g *FakeGateway) Client() *http.Client { return g.server.Client() }

func (g *FakeGateway) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), g.intercept())

	r.POST("/discover", g.handleDiscover)
	r.POST("/explain", g.handleExplain)
	r.POST("/fit_scm", g.handleFit)
	r.POST("/counterfactual", g.handleCounterfactual)
	r.POST("/simulate", g.handleSimulate)
	r.POST("/optimize", g.handleOptimize)
	r.POST("/upload", g.handleUpload)
	r.POST("/auth/login", g.handleLogin)
	r.POST("/auth/signup", g.handleSignup)
	r.POST("/history/save", g.handleHistorySave)
	r.GET("/history/:email", g.handleHistoryList)
	r.DELETE("/history/:email", g.handleHistoryClear)
	return r
}

// opFor names an operation the way the client does.
func opFor(c *gin.Context) string {
	path := c.FullPath()
	switch {
	case path == "/history/save":
		return "history.save"
	case path == "/history/:email" && c.Request.Method == http.MethodGet:
		return "history.list"
	case path == "/history/:email":
		return "history.clear"
	case strings.HasPrefix(path, "/auth/"):
		return strings.TrimPrefix(path, "/auth/")
	}
	return strings.TrimPrefix(path, "/")
}

// intercept counts calls and applies configured failures and canned bodies.
func (g *FakeGateway) intercept() gin.HandlerFunc {
	return func(c *gin.Context) {
		op := opFor(c)

		g.mu.Lock()
		g.calls[op]++
		g.auth[op] = c.GetHeader("Authorization")
		f := g.failures[op]
		if f != nil && f.remaining > 0 {
			f.remaining--
			if f.remaining == 0 {
				delete(g.failures, op)
			}
		}
		canned, hasCanned := g.canned[op]
		delay := g.delays[op]
		g.mu.Unlock()

		if op != "discover" && !sleep(c, delay) {
			return
		}
		if f != nil {
			c.AbortWithStatusJSON(f.status, gin.H{"detail": f.detail})
			return
		}
		if hasCanned {
			c.Data(canned.status, "application/json", []byte(canned.body))
			c.Abort()
			return
		}
		c.Next()
	}
}

// sleep waits for d or until the client goes away.
func sleep(c *gin.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	select {
	case <-time.After(d):
		return true
	case <-c.Request.Context().Done():
		c.Abort()
		return false
	}
}

// SetEdges sets the graph returned for a discovery method.
func (g *FakeGateway) SetEdges(method string, pairs [][]string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.edges[method] = pairs
}

// SetDelay delays an operation. Discovery delays are keyed "discover:<method>".
func (g *FakeGateway) SetDelay(op string, d time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.delays[op] = d
}

// Fail makes the next times calls to op fail; times <= 0 fails every call.
func (g *FakeGateway) Fail(op string, status int, detail string, times int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if times <= 0 {
		times = -1
	}
	g.failures[op] = &failure{status: status, detail: detail, remaining: times}
}

// Recover clears any failure configured for op.
func (g *FakeGateway) Recover(op string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.failures, op)
}

// Respond replaces op's handler with a fixed status and raw JSON body.
func (g *FakeGateway) Respond(op string, status int, body string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.canned[op] = cannedResponse{status: status, body: body}
}

// OmitConfidenceBounds drops lower_ci and upper_ci from simulation results.
func (g *FakeGateway) OmitConfidenceBounds() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.omitBounds = true
}

// SetNarrative fixes the explanation text.
func (g *FakeGateway) SetNarrative(text string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.narrative = text
}

// AddUser registers an account for login.
func (g *FakeGateway) AddUser(email, password string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.users[email] = fakeUser{password: password}
}

// SetClock overrides the time source used for history timestamps.
func (g *FakeGateway) SetClock(clock func() time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.clock = clock
}

// Calls reports how many requests op has received.
func (g *FakeGateway) Calls(op string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[op]
}

// Authorization returns the Authorization header of op's last request.
func (g *FakeGateway) Authorization(op string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.auth[op]
}

// Upload returns the bytes stored under filename.
func (g *FakeGateway) Upload(filename string) ([]byte, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	b, ok := g.uploads[filename]
	return b, ok
}

// HistoryLen reports how many entries are stored for email.
func (g *FakeGateway) HistoryLen(email string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.history[email])
}

func (g *FakeGateway) handleDiscover(c *gin.Context) {
	var req struct {
		DatasetPath string `json:"dataset_path"`
		Method      string `json:"method"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": err.Error()})
		return
	}

	g.mu.Lock()
	delay := g.delays["discover:"+req.Method]
	if d, ok := g.delays["discover"]; ok && delay == 0 {
		delay = d
	}
	pairs, ok := g.edges[req.Method]
	g.mu.Unlock()

	if !sleep(c, delay) {
		return
	}
	if !ok {
		pairs = [][]string{{"A", "B"}, {"B", "C"}}
	}
	c.JSON(http.StatusOK, gin.H{"edges": pairs, "nodes": nodesOf(pairs), "method": req.Method})
}

func (g *FakeGateway) handleExplain(c *gin.Context) {
	var req struct {
		Edges   [][]string `json:"edges"`
		Context string     `json:"context"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": err.Error()})
		return
	}
	g.mu.Lock()
	narrative := g.narrative
	g.mu.Unlock()
	if narrative == "" {
		narrative = fmt.Sprintf("The %s graph has %d causal relationships.", req.Context, len(req.Edges))
	}
	c.JSON(http.StatusOK, gin.H{"narrative": narrative})
}

func (g *FakeGateway) handleFit(c *gin.Context) {
	var req struct {
		DatasetPath string     `json:"dataset_path"`
		Edges       [][]string `json:"dag_edges"`
		Epochs      int        `json:"epochs"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": err.Error()})
		return
	}
	if len(req.Edges) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "No edges provided"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "message": "Neural SCM model trained successfully"})
}

type fakeAnalysisRequest struct {
	Observation  map[string]float64 `json:"observation"`
	Intervention map[string]float64 `json:"intervention"`
	SampleCount  int                `json:"n_samples"`
	Edges        [][]string         `json:"dag_edges"`
	DatasetPath  string             `json:"dataset_path"`
	TargetNode   string             `json:"target_node"`
	TargetValue  float64            `json:"target_value"`
	ControlNode  string             `json:"control_node"`
}

func (g *FakeGateway) handleCounterfactual(c *gin.Context) {
	var req fakeAnalysisRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": err.Error()})
		return
	}

	original := map[string]float64{}
	for _, n := range nodesOf(req.Edges) {
		original[n] = 1
	}
	for n, v := range req.Observation {
		original[n] = v
	}
	counterfactual := map[string]float64{}
	for n, v := range original {
		counterfactual[n] = v
	}
	// Each intervened node shifts its direct effects by half its change.
	for n, v := range req.Intervention {
		shift := v - original[n]
		counterfactual[n] = v
		for _, e := range req.Edges {
			if len(e) == 2 && e[0] == n {
				counterfactual[e[1]] += shift / 2
			}
		}
	}
	delta := map[string]float64{}
	for n, v := range counterfactual {
		delta[n] = v - original[n]
	}
	c.JSON(http.StatusOK, gin.H{"original": original, "counterfactual": counterfactual, "delta": delta})
}

func (g *FakeGateway) handleSimulate(c *gin.Context) {
	var req fakeAnalysisRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": err.Error()})
		return
	}

	mean := map[string]float64{}
	for _, n := range nodesOf(req.Edges) {
		mean[n] = 10
	}
	for n, v := range req.Intervention {
		mean[n] = v
	}
	body := gin.H{"mean_outcomes": mean}

	g.mu.Lock()
	omit := g.omitBounds
	g.mu.Unlock()
	if !omit {
		lower, upper := map[string]float64{}, map[string]float64{}
		for n, v := range mean {
			lower[n], upper[n] = v-1, v+1
		}
		body["lower_ci"], body["upper_ci"] = lower, upper
	}
	c.JSON(http.StatusOK, body)
}

func (g *FakeGateway) handleOptimize(c *gin.Context) {
	var req fakeAnalysisRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"suggested_value":   req.TargetValue / 2,
		"predicted_outcome": req.TargetValue,
		"message":           fmt.Sprintf("Set %s to reach %s", req.ControlNode, req.TargetNode),
	})
}

func (g *FakeGateway) handleUpload(c *gin.Context) {
	header, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "No file uploaded"})
		return
	}
	f, err := header.Open()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}

	g.mu.Lock()
	g.uploads[header.Filename] = content
	g.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{
		"status":   "success",
		"filename": header.Filename,
		"message":  "File uploaded successfully",
	})
}

type fakeAuthRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
	FullName string `json:"full_name"`
}

func (g *FakeGateway) handleLogin(c *gin.Context) {
	var req fakeAuthRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": err.Error()})
		return
	}
	g.mu.Lock()
	user, ok := g.users[req.Email]
	g.mu.Unlock()
	if !ok || user.password != req.Password {
		c.JSON(http.StatusUnauthorized, gin.H{"detail": "Invalid credentials"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "email": req.Email, "token": FakeToken})
}

func (g *FakeGateway) handleSignup(c *gin.Context) {
	var req fakeAuthRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": err.Error()})
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.users[req.Email]; exists {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Email already registered"})
		return
	}
	g.users[req.Email] = fakeUser{password: req.Password, fullName: req.FullName}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

func (g *FakeGateway) handleHistorySave(c *gin.Context) {
	var req struct {
		Email   string                 `json:"email" binding:"required"`
		Type    string                 `json:"type" binding:"required"`
		Inputs  map[string]interface{} `json:"inputs"`
		Results map[string]interface{} `json:"results"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": err.Error()})
		return
	}

	g.mu.Lock()
	g.nextID++
	g.history[req.Email] = append(g.history[req.Email], fakeRecord{
		ID:        g.nextID,
		Type:      req.Type,
		Timestamp: g.clock().Format(storeLayout),
		Inputs:    req.Inputs,
		Results:   req.Results,
	})
	g.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{"status": "saved"})
}

func (g *FakeGateway) handleHistoryList(c *gin.Context) {
	email := c.Param("email")

	g.mu.Lock()
	records := append([]fakeRecord(nil), g.history[email]...)
	g.mu.Unlock()

	sort.SliceStable(records, func(i, j int) bool { return records[i].ID > records[j].ID })
	if len(records) > historyLimit {
		records = records[:historyLimit]
	}
	c.JSON(http.StatusOK, records)
}

func (g *FakeGateway) handleHistoryClear(c *gin.Context) {
	email := c.Param("email")
	g.mu.Lock()
	delete(g.history, email)
	g.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{"status": "cleared"})
}

func nodesOf(pairs [][]string) []string {
	seen := map[string]struct{}{}
	nodes := []string{}
	for _, p := range pairs {
		for _, n := range p {
			if _, ok := seen[n]; ok {
				continue
			}
			seen[n] = struct{}{}
			nodes = append(nodes, n)
		}
	}
	sort.Strings(nodes)
	return nodes
}
