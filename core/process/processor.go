// Package process implements the request processor (spec.md §4.B), the
// "process" JSON handler's business logic, grounded directly on
// original_source/src/server/RequestHandler.cpp's processRequestInternal,
// parseJson, validateUserData, generateJsonResponse/generateErrorResponse.
package process

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
)

// UserData mirrors original_source's UserData struct.
type UserData struct {
	ID     int    `json:"id"`
	Name   string `json:"name"`
	Phone  string `json:"phone"`
	Number int    `json:"number"`
}

// rawRecord is used to distinguish "field absent" from "field present with
// the zero value" during validation, which encoding/json's UserData alone
// cannot do (a missing "id" and an explicit "id":0 both decode to ID==0).
type rawRecord struct {
	ID     *int    `json:"id"`
	Name   *string `json:"name"`
	Phone  *string `json:"phone"`
	Number *int    `json:"number"`
}

// successResponse and errorResponse are spec.md §6's two response shapes.
type successResponse struct {
	ID      int    `json:"id"`
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Number  int    `json:"number"`
	Success bool   `json:"success"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Success bool   `json:"success"`
}

// ValidationError is the error for every rejected /process body, a
// malformed-JSON body included (spec.md §9 Open Questions: source uses 200
// for these, new implementations SHOULD use 400).
type ValidationError struct{ msg string }

func (e *ValidationError) Error() string { return e.msg }

// Processor holds the process-global counter state from spec.md §3:
// total_sum, per_client_sum, and the processed/successful/failed
// statistics. One instance is constructed by app.New and shared by every
// worker handling POST /process.
type Processor struct {
	requestsProcessed atomic.Uint64
	successfulReqs    atomic.Uint64
	failedReqs        atomic.Uint64

	totalSum atomic.Int64

	clientMu      sync.Mutex
	perClientSum  map[string]int64
}

// New constructs an empty Processor.
func New() *Processor {
	return &Processor{perClientSum: make(map[string]int64)}
}

// Process parses and validates body, updates counter state on success, and
// returns the JSON-encoded response body plus whether the request
// succeeded. Validation order follows the original's parseJson/
// validateUserData: missing/wrong-typed id, then name, then phone, then
// number; then empty name/phone and negative id.
func (p *Processor) Process(body []byte) (respBody []byte, ok bool) {
	p.requestsProcessed.Add(1)

	data, err := p.parseAndValidate(body)
	if err != nil {
		p.failedReqs.Add(1)
		out, _ := json.Marshal(errorResponse{Error: err.Error(), Success: false})
		return out, false
	}

	originalNumber := data.Number
	clientID := fmt.Sprintf("user_%d", data.ID)

	p.totalSum.Add(int64(originalNumber))
	p.clientMu.Lock()
	p.perClientSum[clientID] += int64(originalNumber)
	p.clientMu.Unlock()

	data.Number = originalNumber + 1

	p.successfulReqs.Add(1)
	out, _ := json.Marshal(successResponse{
		ID:      data.ID,
		Name:    data.Name,
		Phone:   data.Phone,
		Number:  data.Number,
		Success: true,
	})
	return out, true
}

func (p *Processor) parseAndValidate(body []byte) (UserData, error) {
	var raw rawRecord
	if err := json.Unmarshal(body, &raw); err != nil {
		return UserData{}, &ValidationError{msg: "invalid JSON format"}
	}

	if raw.ID == nil {
		return UserData{}, &ValidationError{msg: "missing or invalid 'id' field"}
	}
	if raw.Name == nil {
		return UserData{}, &ValidationError{msg: "missing or invalid 'name' field"}
	}
	if raw.Phone == nil {
		return UserData{}, &ValidationError{msg: "missing or invalid 'phone' field"}
	}
	if raw.Number == nil {
		return UserData{}, &ValidationError{msg: "missing or invalid 'number' field"}
	}

	data := UserData{ID: *raw.ID, Name: *raw.Name, Phone: *raw.Phone, Number: *raw.Number}

	if data.Name == "" {
		return UserData{}, &ValidationError{msg: "invalid user data: name must not be empty"}
	}
	if data.Phone == "" {
		return UserData{}, &ValidationError{msg: "invalid user data: phone must not be empty"}
	}
	if data.ID < 0 {
		return UserData{}, &ValidationError{msg: "invalid user data: id must not be negative"}
	}

	return data, nil
}

// TotalSum returns the running sum of original "number" values across all
// successful requests.
func (p *Processor) TotalSum() int64 { return p.totalSum.Load() }

// ClientSum returns the running sum for one client id ("user_<id>").
func (p *Processor) ClientSum(id int) int64 {
	key := fmt.Sprintf("user_%d", id)
	p.clientMu.Lock()
	defer p.clientMu.Unlock()
	return p.perClientSum[key]
}

// AllClientSums returns a defensive copy of the full per-client map.
func (p *Processor) AllClientSums() map[string]int64 {
	p.clientMu.Lock()
	defer p.clientMu.Unlock()
	out := make(map[string]int64, len(p.perClientSum))
	for k, v := range p.perClientSum {
		out[k] = v
	}
	return out
}

// Stats returns the processed/successful/failed counters (spec.md §3
// "Statistics").
func (p *Processor) Stats() (processed, successful, failed uint64) {
	return p.requestsProcessed.Load(), p.successfulReqs.Load(), p.failedReqs.Load()
}

// ResetStatistics zeroes the processed/successful/failed counters; kept
// from original_source's RequestHandler::resetStatistics for test use. It
// deliberately does not touch totalSum/perClientSum — those are durable
// counter state per spec.md §3, not per-run statistics.
func (p *Processor) ResetStatistics() {
	p.requestsProcessed.Store(0)
	p.successfulReqs.Store(0)
	p.failedReqs.Store(0)
}
