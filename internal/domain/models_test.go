package domain

import "testing"

func TestTableNames(t *testing.T) {
	cases := map[string]string{
		User{}.TableName():              "users",
		Conversation{}.TableName():      "conversations",
		Message{}.TableName():           "messages",
		ReceiptEmbedding{}.TableName():  "receipt_embeddings",
		ConversationState{}.TableName(): "conversation_states",
	}
	for got, want := range cases {
		if got != want {
			t.Errorf("table name = %q, want %q", got, want)
		}
	}
}

func TestMessage_Durable(t *testing.T) {
	var nilMsg *Message
	if nilMsg.Durable() {
		t.Error("nil message must not be durable")
	}
	if (&Message{}).Durable() {
		t.Error("message without id must not be durable")
	}
	if (&Message{ID: "m1", Ephemeral: true}).Durable() {
		t.Error("ephemeral stand-in must not be durable")
	}
	if !(&Message{ID: "m1"}).Durable() {
		t.Error("persisted message must be durable")
	}
}
