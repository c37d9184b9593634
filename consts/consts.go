package consts

import "time"

const (
	MaxFrameSize     = 16 * 1024 * 1024 // MaxFrameSize - длина фрейма должна быть строго меньше
	FrameHeaderSize  = 4
	RequestHeaderLen = 4 + 1 // pcode + eof

	DefaultListenAddr   = "127.0.0.1:44444"
	DefaultAdminAddr    = "127.0.0.1:44445"
	DefaultDialTimeout  = 5 * time.Second
	DefaultCallTimeout  = 5 * time.Second
	DefaultStopTimeout  = 10 * time.Second
	DefaultReportPeriod = time.Second

	// TaskQueueSize - размер очереди задач одного executor'а
	TaskQueueSize = 128
)
