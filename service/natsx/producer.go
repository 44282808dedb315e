package natsx

import (
	"context"

	"PCollab/tools/errs"
)

// NatsxProducer 生产端
type NatsxProducer struct{ c *NatsxClient }

func NewNatsxProducer(c *NatsxClient) *NatsxProducer { return &NatsxProducer{c: c} }

// Publish 按 Biz 路由发送；token 非空时追加为子主题（subject.token）
func (p *NatsxProducer) Publish(ctx context.Context, biz, token string, data []byte, hdr map[string]string) error {
	r, ok := p.c.route(biz)
	if !ok {
		return errs.New("route not found", "biz", biz)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.c.sendCore(publishSubject(r.Subject, token), data, hdr)
}

// publishSubject 去掉订阅通配符后拼接 token：collab.obj.> + doc1 -> collab.obj.doc1
func publishSubject(subject, token string) string {
	base := subject
	for len(base) > 0 {
		last := base[len(base)-1]
		if last == '>' || last == '*' || last == '.' {
			base = base[:len(base)-1]
			continue
		}
		break
	}
	if token == "" {
		return base
	}
	return base + "." + token
}
