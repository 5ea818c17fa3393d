// Package workflow turns inbound {kind, payload} requests into workflow runs
// and their single-shape responses.
package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Request kinds.
const (
	KindLoginReport      = "loginReport"
	KindRankCheckStart   = "rankCheckStart"
	KindRankCheckKeyword = "rankCheckKeyword"
	KindRankCheckEnd     = "rankCheckEnd"
	KindAutoKeyword      = "autoKeyword"
	KindGetVersion       = "getVersion"

	KindNaverShoppingTags    = "getNaverShoppingTags"
	KindNaverShoppingData    = "getNaverShoppingData"
	KindCoupangAdsLoginCheck = "coupangAdsLoginCheck"
	KindNaverLoginCheck      = "naverLoginCheck"
)

// Request is the inbound envelope.
type Request struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Response carries exactly one of Data, the file pair, or Error.
type Response struct {
	Success  bool   `json:"success"`
	Data     any    `json:"data,omitempty"`
	FileData string `json:"fileData,omitempty"`
	FileName string `json:"fileName,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Handler runs one request kind.
type Handler interface {
	Kind() string
	Handle(ctx context.Context, payload json.RawMessage) (*Response, error)
}

// Dispatcher routes requests to the handler registered for their kind.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	log      *zap.Logger
}

func NewDispatcher(log *zap.Logger) *Dispatcher {
	return &Dispatcher{handlers: map[string]Handler{}, log: log.Named("workflow")}
}

// Register adds h, replacing any handler of the same kind.
func (d *Dispatcher) Register(h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[h.Kind()] = h
}

func (d *Dispatcher) Get(kind string) (Handler, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	h, ok := d.handlers[kind]
	return h, ok
}

// Kinds lists the registered kinds in order.
func (d *Dispatcher) Kinds() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	kinds := make([]string, 0, len(d.handlers))
	for k := range d.handlers {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Dispatch runs req and always returns a response; failures become
// {success:false, error}.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) Response {
	h, ok := d.Get(req.Kind)
	if !ok {
		d.log.Warn("unknown request kind", zap.String("kind", req.Kind))
		return Failure(fmt.Errorf("unknown request kind: %s", req.Kind))
	}

	log := d.log.With(zap.String("kind", req.Kind))
	start := time.Now()
	res, err := h.Handle(ctx, req.Payload)
	if err != nil {
		log.Warn("request failed", zap.Error(err), zap.Duration("took", time.Since(start)))
		return Failure(err)
	}
	if res == nil {
		res = &Response{}
	}
	res.Success = true
	log.Info("request completed", zap.Duration("took", time.Since(start)))
	return *res
}

// Failure is the response for err.
func Failure(err error) Response {
	return Response{Success: false, Error: err.Error()}
}

// decode reads payload into v. An absent payload leaves v at its zero value.
func decode(payload json.RawMessage, v any) error {
	if len(payload) == 0 || string(payload) == "null" {
		return nil
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	return nil
}
