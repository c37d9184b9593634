// Package report collects per-call results of the load generator.
package report

import "github.com/ozontech/pnrpc/retcode"

type Reporter interface {
	Acquire(tag string) CallState
	Run() error
	Close() error
}

// CallState собирает результат одного вызова. End отправляет его в отчет.
type CallState interface {
	SetSize(out, in int)         // байт отправлено и получено
	SetResult(code retcode.Code) // код ответа
	IoError(err error)           // ошибка ввода/вывода, соединение потеряно
	Timeout()                    // вызов не уложился в дедлайн
	End()
}
