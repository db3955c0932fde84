package api

import (
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hostinger/neighsync/internal/dataplane"
	"github.com/hostinger/neighsync/internal/logger"
	"github.com/hostinger/neighsync/internal/neighbor"
	"github.com/hostinger/neighsync/internal/rc"
	"github.com/hostinger/neighsync/internal/sniffer"
)

type API struct {
	NM       *neighbor.NeighborManager
	Gatherer prometheus.Gatherer
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

type NeighborView struct {
	IP           string `json:"ip"`
	LinkIndex    int    `json:"link_index"`
	HardwareAddr string `json:"hwAddr"`
	Afi          string `json:"afi"`
	Status       string `json:"status,omitempty"`
}

type NeighborsResponse struct {
	Neighbors []NeighborView `json:"neighbors"`
	Count     int            `json:"count"`
	Timestamp time.Time      `json:"timestamp"`
}

type SniffedInterface struct {
	Interface string    `json:"interface"`
	StartedAt time.Time `json:"started_at"`
	Uptime    float64   `json:"uptime_seconds"`
}

type SniffedInterfacesResponse struct {
	Interfaces []SniffedInterface `json:"interfaces"`
	Count      int                `json:"count"`
	Timestamp  time.Time          `json:"timestamp"`
}

var log = logger.New("api")

// Routes registers the handlers on mux.
func (a *API) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/neighbors", a.ListNeighborsHandler)
	mux.HandleFunc("/sniffed-interfaces", a.ListSniffedInterfacesHandler)
	mux.HandleFunc("/dump", a.DumpHandler)
	if a.Gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(a.Gatherer, promhttp.HandlerOpts{}))
	}
}

func toView(b neighbor.Binding) NeighborView {
	afi := "v4"
	if b.Family() == dataplane.FamilyV6 {
		afi = "v6"
	}

	return NeighborView{
		IP:           b.IP.String(),
		LinkIndex:    int(b.Interface),
		HardwareAddr: b.HardwareAddr.String(),
		Afi:          afi,
	}
}

func sortViews(views []NeighborView) {
	sort.Slice(views, func(i, j int) bool {
		return views[i].IP < views[j].IP
	})
}

func (a *API) ListNeighborsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "method_not_allowed", "Only GET is supported")
		return
	}

	output := []NeighborView{}
	for _, s := range a.NM.ListNeighbors() {
		v := toView(s.Binding)
		v.Status = s.Status.String()
		output = append(output, v)
	}
	sortViews(output)

	writeJSONResponse(w, NeighborsResponse{
		Neighbors: output,
		Count:     len(output),
		Timestamp: time.Now(),
	})
}

func (a *API) ListSniffedInterfacesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "method_not_allowed", "Only GET is supported")
		return
	}

	now := time.Now()
	sniffed := []SniffedInterface{}
	for iface, started := range sniffer.ListActiveSniffers() {
		sniffed = append(sniffed, SniffedInterface{
			Interface: iface,
			StartedAt: started,
			Uptime:    now.Sub(started).Seconds(),
		})
	}

	sort.Slice(sniffed, func(i, j int) bool {
		return sniffed[i].Interface < sniffed[j].Interface
	})

	writeJSONResponse(w, SniffedInterfacesResponse{
		Interfaces: sniffed,
		Count:      len(sniffed),
		Timestamp:  now,
	})
}

// DumpHandler reads back the dataplane's entries for ?interface=N&family=F.
func (a *API) DumpHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "method_not_allowed", "Only GET is supported")
		return
	}

	q := r.URL.Query()
	itf, err := strconv.ParseUint(q.Get("interface"), 10, 32)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "invalid_interface", "interface must be an interface index")
		return
	}

	var family dataplane.Family
	switch q.Get("family") {
	case "", "ipv4", "v4":
		family = dataplane.FamilyV4
	case "ipv6", "v6":
		family = dataplane.FamilyV6
	default:
		writeErrorResponse(w, http.StatusBadRequest, "invalid_family", "family must be ipv4 or ipv6")
		return
	}

	found, code := a.NM.Dump(r.Context(), dataplane.Handle(itf), family)
	if code == rc.NOOP {
		writeErrorResponse(w, http.StatusConflict, "dump_in_progress", "a dump of this interface and family is already running")
		return
	}
	if !code.IsOK() {
		writeErrorResponse(w, http.StatusBadGateway, "dump_failed", code.String())
		return
	}

	output := make([]NeighborView, 0, len(found))
	for _, b := range found {
		output = append(output, toView(b))
	}

	writeJSONResponse(w, NeighborsResponse{
		Neighbors: output,
		Count:     len(output),
		Timestamp: time.Now(),
	})
}

func writeErrorResponse(w http.ResponseWriter, code int, errType, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(ErrorResponse{Error: errType, Message: message, Code: code}); err != nil {
		log.Error("Failed to encode error response: %v", err)
	}
}

func writeJSONResponse(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error("Failed to encode response: %v", err)
	}
}
