package utils

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Структурированное логирование на базе zap.
//
// Все компоненты ядра логируют через этот пакет: единый формат (JSON в
// production, console в development), доменные конструкторы полей и
// глобальный логгер для кода без явной инъекции.

// LogConfig - конфигурация логгера
type LogConfig struct {
	Level       string // debug, info, warn, error, fatal
	Format      string // json, text
	Output      string // путь к файлу; пусто = stderr
	Development bool   // режим разработки (stacktraces, человекочитаемое время)
}

// Logger - обёртка над zap.Logger с sugared вариантом для printf-style вызовов
type Logger struct {
	*zap.Logger
	sugar *zap.SugaredLogger
}

// parseLevel преобразует строковый уровень в zapcore.Level
// Неизвестный уровень = info
func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

// InitLogger создаёт и настраивает логгер
//
// При невозможности открыть файл вывода откатывается на stderr,
// не паникует: логирование не должно ронять торговое ядро.
func InitLogger(cfg LogConfig) *Logger {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "timestamp"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	if cfg.Development {
		encoderCfg = zap.NewDevelopmentEncoderConfig()
	}

	var encoder zapcore.Encoder
	if strings.ToLower(cfg.Format) == "text" {
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	}

	var sink zapcore.WriteSyncer = zapcore.AddSync(os.Stderr)
	if cfg.Output != "" {
		file, err := os.OpenFile(cfg.Output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err == nil {
			sink = zapcore.AddSync(file)
		}
		// fallback на stderr при ошибке открытия
	}

	core := zapcore.NewCore(encoder, sink, parseLevel(cfg.Level))

	opts := []zap.Option{zap.AddCaller()}
	if cfg.Development {
		opts = append(opts, zap.Development())
	}

	zl := zap.New(core, opts...)

	return &Logger{
		Logger: zl,
		sugar:  zl.Sugar(),
	}
}

// With возвращает дочерний логгер с дополнительными полями
func (l *Logger) With(fields ...zap.Field) *Logger {
	child := l.Logger.With(fields...)
	return &Logger{
		Logger: child,
		sugar:  child.Sugar(),
	}
}

// WithComponent возвращает логгер с полем component
func (l *Logger) WithComponent(name string) *Logger {
	return l.With(Component(name))
}

// WithService возвращает логгер с именем внешнего сервиса (broker, telegram, ...)
func (l *Logger) WithService(name string) *Logger {
	return l.With(Service(name))
}

// WithSymbol возвращает логгер с торговым символом
func (l *Logger) WithSymbol(symbol string) *Logger {
	return l.With(Symbol(symbol))
}

// WithPlanID возвращает логгер с идентификатором плана
func (l *Logger) WithPlanID(id string) *Logger {
	return l.With(PlanID(id))
}

// Sugar возвращает sugared логгер для printf-style вызовов
func (l *Logger) Sugar() *zap.SugaredLogger {
	return l.sugar
}

// Debugf, Infof, Warnf, Errorf - printf-style методы
func (l *Logger) Debugf(format string, args ...interface{}) { l.sugar.Debugf(format, args...) }
func (l *Logger) Infof(format string, args ...interface{})  { l.sugar.Infof(format, args...) }
func (l *Logger) Warnf(format string, args ...interface{})  { l.sugar.Warnf(format, args...) }
func (l *Logger) Errorf(format string, args ...interface{}) { l.sugar.Errorf(format, args...) }

// ============================================================
// Глобальный логгер
// ============================================================

var (
	globalLogger *Logger
	globalMu     sync.Mutex
)

// InitGlobalLogger инициализирует глобальный логгер
// Вызывается один раз в main после загрузки конфигурации
func InitGlobalLogger(cfg LogConfig) *Logger {
	logger := InitLogger(cfg)
	SetGlobalLogger(logger)
	return logger
}

// SetGlobalLogger устанавливает глобальный логгер
func SetGlobalLogger(logger *Logger) {
	globalMu.Lock()
	globalLogger = logger
	globalMu.Unlock()
}

// GetGlobalLogger возвращает глобальный логгер
// Если логгер не инициализирован, создаёт дефолтный (info, json, stderr)
func GetGlobalLogger() *Logger {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalLogger == nil {
		logger := InitLogger(LogConfig{})
		globalLogger = logger
	}
	return globalLogger
}

// L - короткий алиас для GetGlobalLogger
func L() *Logger {
	return GetGlobalLogger()
}

// Глобальные функции логирования

func Debug(msg string, fields ...zap.Field) { L().Logger.Debug(msg, fields...) }
func Info(msg string, fields ...zap.Field)  { L().Logger.Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field)  { L().Logger.Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { L().Logger.Error(msg, fields...) }
func Fatal(msg string, fields ...zap.Field) { L().Logger.Fatal(msg, fields...) }

func Debugf(format string, args ...interface{}) { L().Debugf(format, args...) }
func Infof(format string, args ...interface{})  { L().Infof(format, args...) }
func Warnf(format string, args ...interface{})  { L().Warnf(format, args...) }
func Errorf(format string, args ...interface{}) { L().Errorf(format, args...) }

// fieldsToInterface конвертирует zap поля в плоский список key/value
// для передачи в sugared логгер
func fieldsToInterface(fields []zap.Field) []interface{} {
	out := make([]interface{}, 0, len(fields)*2)
	for _, f := range fields {
		enc := zapcore.NewMapObjectEncoder()
		f.AddTo(enc)
		out = append(out, f.Key, enc.Fields[f.Key])
	}
	return out
}

// ============================================================
// Доменные конструкторы полей
// ============================================================

func Service(name string) zap.Field     { return zap.String("service", name) }
func Symbol(symbol string) zap.Field    { return zap.String("symbol", symbol) }
func PlanID(id string) zap.Field        { return zap.String("plan_id", id) }
func OrderID(id string) zap.Field       { return zap.String("order_id", id) }
func PositionID(id string) zap.Field    { return zap.String("position_id", id) }
func FillID(id string) zap.Field        { return zap.String("fill_id", id) }
func Price(price float64) zap.Field     { return zap.Float64("price", price) }
func Volume(volume float64) zap.Field   { return zap.Float64("volume", volume) }
func PNL(pnl float64) zap.Field         { return zap.Float64("pnl", pnl) }
func Side(side string) zap.Field        { return zap.String("side", side) }
func State(state string) zap.Field      { return zap.String("state", state) }
func Latency(ms float64) zap.Field      { return zap.Float64("latency_ms", ms) }
func Attempt(n int) zap.Field           { return zap.Int("attempt", n) }
func RequestID(id string) zap.Field     { return zap.String("request_id", id) }
func Component(name string) zap.Field   { return zap.String("component", name) }

// Переэкспорт стандартных конструкторов zap

func String(key, value string) zap.Field         { return zap.String(key, value) }
func Int(key string, value int) zap.Field        { return zap.Int(key, value) }
func Int64(key string, value int64) zap.Field    { return zap.Int64(key, value) }
func Float64(key string, value float64) zap.Field { return zap.Float64(key, value) }
func Bool(key string, value bool) zap.Field      { return zap.Bool(key, value) }
func Err(err error) zap.Field                    { return zap.Error(err) }
func Any(key string, value interface{}) zap.Field { return zap.Any(key, value) }
