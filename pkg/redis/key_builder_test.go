package redis

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyBuilder_Build(t *testing.T) {
	tests := []struct {
		name      string
		namespace string
		context   string
		entity    string
		attribute string
		want      string
	}{
		{
			name:      "sequence counter key",
			namespace: NamespaceChat,
			context:   ContextSequence,
			entity:    "room",
			attribute: "general",
			want:      "chat:sequence:room:general",
		},
		{
			name:      "subscription directory key",
			namespace: NamespaceChat,
			context:   ContextSubscription,
			entity:    "server",
			attribute: "server-17",
			want:      "chat:subscription:server:server-17",
		},
		{
			name:      "no attribute",
			namespace: NamespaceChat,
			context:   ContextSequence,
			entity:    "room",
			attribute: "",
			want:      "chat:sequence:room",
		},
		{
			name:      "lowercases components",
			namespace: "Chat",
			context:   "Sequence",
			entity:    "Room",
			attribute: "General",
			want:      "chat:sequence:room:general",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kb := NewKeyBuilder(tt.namespace, tt.context)
			assert.Equal(t, tt.want, kb.Build(tt.entity, tt.attribute))
		})
	}
}
