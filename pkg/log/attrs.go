package log

import (
	"log/slog"
	"time"
)

func Target(target any) slog.Attr {
	return slog.Any("target", target)
}

func Handle(h string) slog.Attr {
	return slog.String("handle", h)
}

func Callback(name string) slog.Attr {
	return slog.String("callback", name)
}

func FireAt(t time.Time) slog.Attr {
	return slog.Time("fire_at", t)
}

func Library[T ~string](id T) slog.Attr {
	return slog.String("library_id", string(id))
}

func Path(path string) slog.Attr {
	return slog.String("path", path)
}

func Error(err error) slog.Attr {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return slog.String("error", msg)
}
