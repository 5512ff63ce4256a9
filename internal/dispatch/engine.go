package dispatch

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"fleettrack/relay/internal/chat"
	"fleettrack/relay/internal/geo"
	"fleettrack/relay/internal/logging"
	"fleettrack/relay/internal/registry"
	"fleettrack/relay/internal/routing"
	"fleettrack/relay/internal/state"
)

// Stats counts engine activity for the operational status surface.
type Stats struct {
	Events     uint64 `json:"events"`
	Broadcasts uint64 `json:"broadcasts"`
	Rejected   uint64 `json:"rejected"`
}

// Options configures the dispatch engine.
type Options struct {
	Registry     *registry.Registry
	Drivers      *state.Store
	Chats        *chat.Store
	Provider     routing.Provider
	Fallback     *routing.FallbackProvider
	RouteTimeout time.Duration
	Logger       *logging.Logger
	TimeSource   func() time.Time
}

// Engine routes inbound events: it validates payloads, mutates the stores, and
// computes the fan-out set. Each event type is an independent handler; the
// stores provide their own synchronisation.
type Engine struct {
	registry     *registry.Registry
	drivers      *state.Store
	chats        *chat.Store
	provider     routing.Provider
	fallback     *routing.FallbackProvider
	routeTimeout time.Duration
	log          *logging.Logger
	now          func() time.Time

	events     atomic.Uint64
	broadcasts atomic.Uint64
	rejected   atomic.Uint64
}

// New constructs an engine over the shared stores.
func New(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = logging.L()
	}
	now := opts.TimeSource
	if now == nil {
		now = time.Now
	}
	fallback := opts.Fallback
	if fallback == nil {
		fallback = routing.NewFallbackProvider(routing.DefaultRateTable())
	}
	timeout := opts.RouteTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Engine{
		registry:     opts.Registry,
		drivers:      opts.Drivers,
		chats:        opts.Chats,
		provider:     opts.Provider,
		fallback:     fallback,
		routeTimeout: timeout,
		log:          logger,
		now:          now,
	}
}

// Stats snapshots the engine counters.
func (e *Engine) Stats() Stats {
	if e == nil {
		return Stats{}
	}
	return Stats{
		Events:     e.events.Load(),
		Broadcasts: e.broadcasts.Load(),
		Rejected:   e.rejected.Load(),
	}
}

// Dispatch runs the handler for one inbound frame. Panics inside a handler are
// contained here so a malformed event can never drop other clients' sessions.
func (e *Engine) Dispatch(sess registry.Session, event string, raw []byte) {
	if e == nil || sess == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("event handler panic",
				logging.String("event", event),
				logging.Field{Key: "panic", Value: r})
		}
	}()
	e.events.Add(1)

	switch event {
	case EventIdentify:
		e.handleIdentify(sess, raw)
	case EventDriverLocation:
		e.handleDriverLocation(sess, raw)
	case EventDriverRoute:
		e.handleDriverRoute(sess, raw)
	case EventRequestRoute:
		e.handleRequestDriverRoute(sess, raw)
	case EventRequestRouteToll:
		e.handleRequestRouteWithToll(sess, raw)
	case EventSendMessage:
		e.handleSendMessage(sess, raw)
	case EventGetChatHistory:
		e.handleGetChatHistory(sess, raw)
	case EventMarkAsRead:
		e.handleMarkAsRead(sess, raw)
	default:
		e.log.Debug("ignoring unknown event", logging.String("event", event))
	}
}

// HandleDisconnect releases the session's registry binding and demotes the
// matching driver record. Driver state itself survives until the sweeper runs.
func (e *Engine) HandleDisconnect(sess registry.Session) {
	if e == nil || sess == nil {
		return
	}
	clientType, clientID, ok := e.registry.Drop(sess)
	if !ok || clientType != registry.ClientDriver {
		return
	}
	record, ok := e.drivers.MarkOffline(clientID)
	if !ok {
		return
	}
	e.broadcastMonitors(EventDriverOffline, map[string]any{
		"deviceID": record.DeviceID,
		"lastSeen": record.LastSeen,
	})
}

func (e *Engine) handleIdentify(sess registry.Session, raw []byte) {
	var payload identifyPayload
	if err := decodePayload(raw, &payload); err != nil {
		e.reject(sess, EventMessageError, "identify payload malformed")
		return
	}
	clientType := registry.ClientType(strings.TrimSpace(payload.Type))
	if !clientType.Valid() {
		e.reject(sess, EventMessageError, "identify requires a client type")
		return
	}

	clientID := strings.TrimSpace(payload.DriverID)
	if clientType == registry.ClientMonitor {
		clientID = strings.TrimSpace(payload.MonitorID)
	}
	if clientID == "" {
		clientID = sess.SessionID()
	}

	_, superseded := e.registry.Identify(sess, clientType, clientID)
	if superseded != nil {
		//1.- Tell the evicted socket it lost the identity so tab refreshes are clean.
		superseded.Send(EventSuperseded, map[string]any{"clientId": clientID})
	}
	sess.Send(EventConnectionAck, map[string]any{
		"clientType": string(clientType),
		"clientId":   clientID,
	})

	switch clientType {
	case registry.ClientMonitor:
		//2.- New monitors get the full driver snapshot before the live stream.
		// Route-only records have no position yet, so only their route is sent.
		for _, record := range e.drivers.Snapshot() {
			if record.HasLocation() {
				sess.Send(EventDriverData, driverDataFrom(record))
			}
			if record.Route != nil {
				sess.Send(EventDriverRouteUpdate, routeUpdateFrom(*record.Route))
			}
		}
	case registry.ClientDriver:
		//3.- Flush messages queued for the driver while it was away.
		for _, msg := range e.chats.UnreadQueuedFor(clientID) {
			sess.Send(EventReceiveMessage, msg)
		}
	}
}

func (e *Engine) handleDriverLocation(sess registry.Session, raw []byte) {
	var payload locationPayload
	if err := decodePayload(raw, &payload); err != nil {
		e.ack(sess, EventLocationAck, "", err.Error())
		return
	}
	location, err := geo.FromLngLat(payload.Location.Coordinates)
	if err != nil {
		e.ack(sess, EventLocationAck, payload.DeviceID, "location coordinates malformed")
		return
	}

	previous, existed := e.drivers.Get(payload.DeviceID)
	record, err := e.drivers.UpsertLocation(payload.DeviceID, location, payload.Speed, payload.Heading, payload.Timestamp)
	if err != nil {
		e.ack(sess, EventLocationAck, payload.DeviceID, err.Error())
		return
	}

	//1.- Bind the sending socket to the device so directed messages reach it.
	if superseded, ok := e.registry.Register(registry.ClientDriver, record.DeviceID, sess); ok {
		superseded.Send(EventSuperseded, map[string]any{"clientId": record.DeviceID})
	}

	e.broadcastMonitors(EventDriverData, driverDataFrom(record))
	if existed && previous.Status == state.StatusOffline {
		//2.- The driver came back before eviction; let monitors flip its badge.
		e.broadcastMonitors(EventDriverStatus, map[string]any{
			"deviceID": record.DeviceID,
			"status":   string(state.StatusActive),
		})
	}
	e.ack(sess, EventLocationAck, record.DeviceID, "")
}

func (e *Engine) handleDriverRoute(sess registry.Session, raw []byte) {
	var payload routePayload
	if err := decodePayload(raw, &payload); err != nil {
		e.ack(sess, EventRouteAck, "", err.Error())
		return
	}
	start, startErr := geo.FromLatLng(payload.StartPoint)
	end, endErr := geo.FromLatLng(payload.EndPoint)
	if startErr != nil || endErr != nil {
		e.ack(sess, EventRouteAck, payload.DeviceID, "route endpoints malformed")
		return
	}
	geometry, err := geometryFromPairs(payload.RouteGeometry)
	if err != nil {
		e.ack(sess, EventRouteAck, payload.DeviceID, "route geometry malformed")
		return
	}

	route, err := e.drivers.UpsertRoute(state.RouteRef{
		DeviceID:      payload.DeviceID,
		Start:         start,
		End:           end,
		Geometry:      geometry,
		TransportMode: payload.TransportMode,
		DistanceKm:    payload.Distance,
		DurationMin:   payload.Duration,
		Timestamp:     e.now(),
	})
	if err != nil {
		e.ack(sess, EventRouteAck, payload.DeviceID, err.Error())
		return
	}

	e.broadcastMonitors(EventDriverRouteUpdate, routeUpdateFrom(route))
	e.ack(sess, EventRouteAck, route.DeviceID, "")
}

func (e *Engine) handleRequestDriverRoute(sess registry.Session, raw []byte) {
	var payload chatHistoryPayload
	if err := decodePayload(raw, &payload); err != nil || strings.TrimSpace(payload.DriverID) == "" {
		e.reject(sess, EventRouteError, "driverId is required")
		return
	}

	record, ok := e.drivers.Get(payload.DriverID)
	if !ok || record.Route == nil {
		//1.- Unknown routes are an explicit empty reply, never a protocol error.
		sess.Send(EventDriverRouteUpdate, map[string]any{
			"driverId":     strings.TrimSpace(payload.DriverID),
			"hasRouteData": false,
		})
		return
	}
	sess.Send(EventDriverRouteUpdate, map[string]any{
		"driverId":     record.DeviceID,
		"hasRouteData": true,
		"route":        routeUpdateFrom(*record.Route),
	})
}

func (e *Engine) handleRequestRouteWithToll(sess registry.Session, raw []byte) {
	var payload routeTollPayload
	if err := decodePayload(raw, &payload); err != nil {
		e.reject(sess, EventRouteError, "route request malformed")
		return
	}
	start, startErr := geo.FromLatLng(payload.StartPoint)
	end, endErr := geo.FromLatLng(payload.EndPoint)
	if startErr != nil || endErr != nil {
		e.reject(sess, EventRouteError, "startPoint and endPoint are required")
		return
	}
	mode, err := routing.NormalizeMode(payload.TransportMode)
	if err != nil {
		e.reject(sess, EventRouteError, "unknown transport mode")
		return
	}

	request := routing.Request{
		Start:      start,
		End:        end,
		Mode:       mode,
		Vehicle:    payload.TruckSpecs,
		PreferToll: payload.PreferTollRoads,
	}
	result := e.computeRoute(request)

	deviceID := strings.TrimSpace(payload.DeviceID)
	if deviceID != "" {
		//1.- The provider call suspended us; re-check the device is still tracked
		// before mutating route state on its behalf.
		if _, ok := e.drivers.Get(deviceID); ok {
			route := state.RouteRef{
				DeviceID:      deviceID,
				Start:         start,
				End:           end,
				Geometry:      result.Geometry,
				TransportMode: mode,
				DistanceKm:    result.DistanceKm,
				DurationMin:   result.DurationMin,
				Toll:          result.Toll,
				Timestamp:     e.now(),
			}
			if stored, err := e.drivers.UpsertRoute(route); err == nil {
				e.broadcastMonitors(EventDriverRouteUpdate, routeUpdateFrom(stored))
			}
		}
	}

	sess.Send(EventRouteTollResponse, map[string]any{
		"deviceID":      deviceID,
		"transportMode": mode,
		"route":         result,
	})
}

// ComputeRoute resolves a one-shot route request outside the event stream. The
// HTTP surface shares the provider budget and fallback with the dispatcher.
func (e *Engine) ComputeRoute(request routing.Request) *routing.Result {
	if e == nil {
		return nil
	}
	return e.computeRoute(request)
}

// computeRoute calls the configured provider under the time budget and falls
// back to the straight-line route unconditionally on failure or timeout. A
// late provider result is discarded.
func (e *Engine) computeRoute(request routing.Request) *routing.Result {
	if e.provider != nil {
		ctx, cancel := context.WithTimeout(context.Background(), e.routeTimeout)
		defer cancel()

		type outcome struct {
			result *routing.Result
			err    error
		}
		resultCh := make(chan outcome, 1)
		go func() {
			result, err := e.provider.ComputeRoute(ctx, request)
			resultCh <- outcome{result: result, err: err}
		}()

		select {
		case out := <-resultCh:
			if out.err == nil && out.result != nil {
				return out.result
			}
			e.log.Warn("route provider failed, using fallback", logging.Error(out.err))
		case <-ctx.Done():
			e.log.Warn("route provider timed out, using fallback",
				logging.String("budget", e.routeTimeout.String()))
		}
	}
	//1.- The fallback cannot fail for a mode that already passed normalisation.
	result, err := e.fallback.ComputeRoute(context.Background(), request)
	if err != nil {
		result = &routing.Result{Geometry: []geo.Coordinate{request.Start, request.End}, Fallback: true}
	}
	return result
}

func (e *Engine) handleSendMessage(sess registry.Session, raw []byte) {
	var payload sendMessagePayload
	if err := decodePayload(raw, &payload); err != nil {
		e.reject(sess, EventMessageError, "message payload malformed")
		return
	}
	msg := chat.Message{
		ID:   payload.ID,
		From: strings.TrimSpace(payload.From),
		To:   strings.TrimSpace(payload.To),
		Text: payload.Text,
	}
	if payload.Timestamp != 0 {
		msg.Timestamp = time.UnixMilli(payload.Timestamp).UTC()
	}

	if err := e.chats.Validate(msg, msg.From); err != nil {
		reason := "rejected"
		var rejection *chat.RejectionError
		if errors.As(err, &rejection) {
			reason = string(rejection.Reason)
		}
		e.rejected.Add(1)
		sess.Send(EventMessageError, map[string]any{"reason": reason})
		return
	}

	stored := e.chats.Append(msg)
	if stored.To == chat.MonitorParty {
		e.broadcastMonitors(EventReceiveMessage, stored)
	} else if target, ok := e.registry.Resolve(registry.ClientDriver, stored.To); ok {
		target.Send(EventReceiveMessage, stored)
	}
	//1.- The echo doubles as the delivery confirmation and carries the assigned id.
	sess.Send(EventReceiveMessage, stored)
}

func (e *Engine) handleGetChatHistory(sess registry.Session, raw []byte) {
	var payload chatHistoryPayload
	if err := decodePayload(raw, &payload); err != nil || strings.TrimSpace(payload.DriverID) == "" {
		e.reject(sess, EventMessageError, "driverId is required")
		return
	}
	driverID := strings.TrimSpace(payload.DriverID)
	sess.Send(EventChatHistory, map[string]any{
		"driverId": driverID,
		"messages": e.chats.History(driverID),
	})
}

func (e *Engine) handleMarkAsRead(sess registry.Session, raw []byte) {
	var payload markReadPayload
	if err := decodePayload(raw, &payload); err != nil || len(payload.MessageIDs) == 0 || strings.TrimSpace(payload.Reader) == "" {
		e.reject(sess, EventMessageError, "messageIds and reader are required")
		return
	}
	reader := strings.TrimSpace(payload.Reader)
	affected := e.chats.MarkRead(payload.MessageIDs, reader)
	if len(affected) == 0 {
		return
	}

	notice := map[string]any{"messageIds": payload.MessageIDs, "reader": reader}
	if reader == chat.MonitorParty {
		//1.- A monitor read driver messages; tell each affected driver if connected.
		for _, driverID := range affected {
			if target, ok := e.registry.Resolve(registry.ClientDriver, driverID); ok {
				target.Send(EventMessageRead, notice)
			}
		}
		return
	}
	//2.- A driver read monitor messages; every dashboard updates its badges.
	e.broadcastMonitors(EventMessageRead, notice)
}

// NotifyDriverRemoved tells every monitor a driver was evicted. The lifecycle
// sweeper calls this after each pass.
func (e *Engine) NotifyDriverRemoved(record state.DriverRecord, reason string) {
	if e == nil {
		return
	}
	e.broadcastMonitors(EventDriverRemoved, map[string]any{
		"deviceID": record.DeviceID,
		"reason":   reason,
		"lastSeen": record.LastSeen,
	})
}

func (e *Engine) broadcastMonitors(event string, payload any) {
	sessions := e.registry.MonitorSessions()
	if len(sessions) == 0 {
		return
	}
	e.broadcasts.Add(1)
	for _, sess := range sessions {
		sess.Send(event, payload)
	}
}

func (e *Engine) ack(sess registry.Session, event, deviceID, problem string) {
	payload := map[string]any{"ok": problem == "", "receivedAt": e.now().UTC()}
	if deviceID != "" {
		payload["deviceID"] = deviceID
	}
	if problem != "" {
		e.rejected.Add(1)
		payload["error"] = problem
	}
	sess.Send(event, payload)
}

func (e *Engine) reject(sess registry.Session, event, problem string) {
	e.rejected.Add(1)
	sess.Send(event, map[string]any{"ok": false, "error": problem})
}
