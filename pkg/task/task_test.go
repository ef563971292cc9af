package task

import "testing"

func TestKind(t *testing.T) {
	tests := []struct {
		payload Payload
		want    string
	}{
		{Async{}, "async"},
		{Blocking{}, "blocking"},
		{WithModule{}, "module"},
		{WithModuleAndMemory{}, "module_memory"},
		{CacheModule{}, "cache_module"},
	}
	for _, tt := range tests {
		if got := Kind(tt.payload); got != tt.want {
			t.Errorf("Kind(%T) = %q, want %q", tt.payload, got, tt.want)
		}
	}
}
