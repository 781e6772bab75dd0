package broadcast

import (
	"context"

	"github.com/loqalabs/loqa-slidecast/internal/protocol"
)

// NoticePublisher is the bus surface the NATS notifier needs.
type NoticePublisher interface {
	PublishJSON(subject string, v any) error
	PublishJSONPersistent(ctx context.Context, subject string, v any) error
}

// NATSNotifier publishes notices on slidecast.broadcast.<slot>. When
// persistent is set the notice goes through JetStream so late subscribers can
// read the latest broadcast of a course.
type NATSNotifier struct {
	pub        NoticePublisher
	persistent bool
}

func NewNATSNotifier(pub NoticePublisher, persistent bool) *NATSNotifier {
	return &NATSNotifier{pub: pub, persistent: persistent}
}

func (n *NATSNotifier) Notify(ctx context.Context, notice protocol.BroadcastNotice) error {
	subject := protocol.BroadcastSubject(notice.CourseSlot)
	if n.persistent {
		return n.pub.PublishJSONPersistent(ctx, subject, notice)
	}
	return n.pub.PublishJSON(subject, notice)
}
