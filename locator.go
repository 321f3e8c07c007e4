package beacon

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sanjaysingh/beacon-go/internal/config"
	"github.com/sanjaysingh/beacon-go/internal/controller"
	"github.com/sanjaysingh/beacon-go/internal/eventbus"
	"github.com/sanjaysingh/beacon-go/internal/ratelimit"
	"github.com/sanjaysingh/beacon-go/internal/telemetry"
)

// defaultName is the logger name used by the package-level convenience
// functions (SetToken, Notify, ...). Everything they do is also reachable
// through an explicit *Logger built with New; this is purely a
// backward-compatible shorthand for the common single-logger case.
const defaultName = "default"

var (
	locatorMu   sync.Mutex
	locatorCfg  *config.Config
	locatorLog  *Logger
	locatorRing *telemetry.Ring
	locatorCtrl *controller.Controller
	locatorBus  *eventbus.Bus
)

func ensureLocator() {
	if locatorRing != nil {
		return
	}
	locatorRing = telemetry.NewRing(telemetry.DefaultCapacity)
	locatorBus = eventbus.New(zap.NewNop())
	locatorCtrl = controller.New(locatorBus, locatorRing, ratelimit.NewLimiter(0), zap.NewNop(), controller.DefaultTick)
	locatorCfg = config.New()
}

// Configure applies loaders on top of the process-wide default Config and
// builds (on first call) or atomically reconfigures in place (on subsequent
// calls, §3 "Reconfiguration is atomic") the default Logger. Call this once
// at startup, typically:
//
//	beacon.Configure(config.EnvLoader{})
func Configure(loaders ...config.Loader) error {
	locatorMu.Lock()
	defer locatorMu.Unlock()

	ensureLocator()
	if err := config.Apply(locatorCfg, loaders...); err != nil {
		return err
	}
	if locatorLog == nil {
		l, err := New(locatorCtrl, locatorBus, locatorCfg, defaultName, nil)
		if err != nil {
			return err
		}
		locatorLog = l
		return nil
	}
	return locatorLog.Reconfigure(locatorCfg)
}

// SetToken sets the default Config's access token without a full reconfigure
// round trip. Configure must be called again for it to take effect if no
// Logger has been built yet.
func SetToken(token string) {
	locatorMu.Lock()
	defer locatorMu.Unlock()
	ensureLocator()
	locatorCfg.AccessToken = token
}

// SetEnvironment sets the default Config's environment name.
func SetEnvironment(env string) {
	locatorMu.Lock()
	defer locatorMu.Unlock()
	ensureLocator()
	locatorCfg.Environment = env
}

func defaultLogger() *Logger {
	locatorMu.Lock()
	defer locatorMu.Unlock()
	return locatorLog
}

// Notify submits an arbitrary report through the default Logger at error
// severity. A no-op if Configure has not been called yet.
func Notify(obj interface{}, custom map[string]interface{}) {
	if l := defaultLogger(); l != nil {
		l.Error(obj, custom)
	}
}

// Critical, Warning, Info, and Debug mirror Notify at other severities.
func Critical(obj interface{}, custom map[string]interface{}) {
	if l := defaultLogger(); l != nil {
		l.Critical(obj, custom)
	}
}
func Warning(obj interface{}, custom map[string]interface{}) {
	if l := defaultLogger(); l != nil {
		l.Warning(obj, custom)
	}
}
func Info(obj interface{}, custom map[string]interface{}) {
	if l := defaultLogger(); l != nil {
		l.Info(obj, custom)
	}
}
func Debug(obj interface{}, custom map[string]interface{}) {
	if l := defaultLogger(); l != nil {
		l.Debug(obj, custom)
	}
}

// Wait blocks until the default logger's outstanding reports have had time
// to drain, per RecommendedTimeout. Intended for a graceful-shutdown path
// right before process exit.
func Wait(timeout time.Duration) {
	l := defaultLogger()
	if l == nil {
		return
	}
	if timeout <= 0 {
		timeout = l.RecommendedTimeout()
	}
	time.Sleep(timeout)
}
