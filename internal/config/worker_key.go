package config

type WorkerKeyStruct struct {
	GradeSyncQueue string
}

var WorkerKey = &WorkerKeyStruct{
	GradeSyncQueue: "grade_sync_queue",
}
