package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/MrEthical07/mindgate/authclient"
	"github.com/MrEthical07/mindgate/authflow"
	"github.com/MrEthical07/mindgate/authstate"
)

// DeviceCookie names the cookie carrying the device id.
const DeviceCookie = "mg_device"

// errTooManyDevices is returned when the registry is full.
var errTooManyDevices = errors.New("device limit reached")

// Device is one browser's session state.
type Device struct {
	ID     string
	Client *authclient.Client
	Holder *authstate.Holder
	Flow   *authflow.Flow

	lastSeen atomic.Int64
	pins     atomic.Int32
}

func (d *Device) touch(now time.Time) {
	d.lastSeen.Store(now.UnixNano())
}

// Pin keeps the device from eviction until the returned func is called.
func (d *Device) Pin() (unpin func()) {
	d.pins.Add(1)
	var once sync.Once
	return func() { once.Do(func() { d.pins.Add(-1) }) }
}

// Await blocks until the holder satisfies cond or timeout passes. Sign-in
// and sign-out handlers call it before responding so the next page load
// sees the new state.
func (d *Device) Await(ctx context.Context, timeout time.Duration, cond func(authstate.Snapshot) bool) bool {
	if cond(d.Holder.Snapshot()) {
		return true
	}

	met := make(chan struct{})
	var once sync.Once
	cancel := d.Holder.Watch(func(snap authstate.Snapshot) {
		if cond(snap) {
			once.Do(func() { close(met) })
		}
	})
	defer cancel()
	if cond(d.Holder.Snapshot()) {
		return true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-met:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

// holding reports whether the holder carries the session with token.
func holding(token string) func(authstate.Snapshot) bool {
	return func(snap authstate.Snapshot) bool {
		return snap.Session != nil && snap.Session.AccessToken == token
	}
}

func signedOut(snap authstate.Snapshot) bool {
	return !snap.Loading && snap.Session == nil
}

func (d *Device) close() {
	d.Holder.Close()
	d.Client.Close()
}

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	Backend authclient.Backend
	Storage authclient.Storage
	// Client is the template for every device client. StorageKey is used
	// as a prefix.
	Client      authclient.Options
	AutoRefresh bool
	// RedirectURL is where sign-up verification links point.
	RedirectURL string
	IdleTimeout time.Duration
	MaxDevices  int
	Logger      *slog.Logger
	Now         func() time.Time
}

// Registry owns the per-device clients and holders.
type Registry struct {
	cfg    RegistryConfig
	logger *slog.Logger

	mu      sync.Mutex
	devices map[string]*Device
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRegistry returns an empty registry. Close releases every device.
func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Client.StorageKey == "" {
		cfg.Client.StorageKey = authclient.DefaultStorageKey
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		cfg:     cfg,
		logger:  cfg.Logger.With("component", "devices"),
		devices: make(map[string]*Device),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Get returns the device with id, creating it when absent. A new device's
// holder starts resolving in the background.
func (r *Registry) Get(id string) (*Device, error) {
	now := r.cfg.Now()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, authclient.ErrClosed
	}
	if d, ok := r.devices[id]; ok {
		d.touch(now)
		return d, nil
	}
	if r.cfg.MaxDevices > 0 && len(r.devices) >= r.cfg.MaxDevices {
		return nil, errTooManyDevices
	}

	opts := r.cfg.Client
	opts.StorageKey = r.cfg.Client.StorageKey + ":" + id
	opts.Logger = r.cfg.Logger
	client := authclient.New(r.cfg.Backend, r.cfg.Storage, opts)
	holder := authstate.New(client, r.cfg.Logger)

	d := &Device{
		ID:     id,
		Client: client,
		Holder: holder,
		Flow:   authflow.New(client, r.cfg.RedirectURL, r.cfg.Logger),
	}
	d.touch(now)
	r.devices[id] = d

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		// a device swept or closed before this runs has a closed holder
		if err := holder.Start(r.ctx); err != nil && !errors.Is(err, authstate.ErrClosed) {
			r.logger.Warn("holder start failed", "error", err)
		}
	}()
	if r.cfg.AutoRefresh {
		client.StartAutoRefresh(r.ctx)
	}
	return d, nil
}

// Lookup returns an existing device without creating one.
func (r *Registry) Lookup(id string) (*Device, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[id]
	if ok {
		d.touch(r.cfg.Now())
	}
	return d, ok
}

// Len is the number of live devices.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.devices)
}

// Sweep evicts devices idle for longer than IdleTimeout and not pinned.
// Their stored sessions survive; the next request recreates the device.
func (r *Registry) Sweep() int {
	if r.cfg.IdleTimeout <= 0 {
		return 0
	}
	cutoff := r.cfg.Now().Add(-r.cfg.IdleTimeout).UnixNano()

	r.mu.Lock()
	var idle []*Device
	for id, d := range r.devices {
		if d.pins.Load() > 0 || d.lastSeen.Load() > cutoff {
			continue
		}
		idle = append(idle, d)
		delete(r.devices, id)
	}
	r.mu.Unlock()

	for _, d := range idle {
		d.close()
	}
	if len(idle) > 0 {
		r.logger.Debug("evicted idle devices", "count", len(idle))
	}
	return len(idle)
}

// RunJanitor sweeps every interval until ctx is done.
func (r *Registry) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// Close releases every device and waits for background work.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	devices := r.devices
	r.devices = make(map[string]*Device)
	r.mu.Unlock()

	r.cancel()
	for _, d := range devices {
		d.close()
	}
	r.wg.Wait()
}

// deviceID returns the request's device id, issuing a new cookie when the
// request has none or carries a malformed one.
func deviceID(w http.ResponseWriter, r *http.Request, secure bool) string {
	if c, err := r.Cookie(DeviceCookie); err == nil {
		if id, err := uuid.Parse(c.Value); err == nil {
			return id.String()
		}
	}
	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     DeviceCookie,
		Value:    id,
		Path:     "/",
		MaxAge:   int((365 * 24 * time.Hour).Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
	return id
}

type deviceIDKey struct{}

// withDeviceID resolves the device id once per request and stores it in
// the request context.
func withDeviceID(secure bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := deviceID(w, r, secure)
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), deviceIDKey{}, id)))
		})
	}
}

func deviceIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(deviceIDKey{}).(string)
	return id
}
