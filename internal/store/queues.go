package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// CreateQueue registers an emulated queue.
func (s *Store) CreateQueue(ctx context.Context, q *Queue) error {
	q.CreatedAt = s.Now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO sqs_queues (environment_id, name, url, fifo, visibility_timeout, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		q.EnvironmentID, q.Name, q.URL, q.FIFO, q.VisibilityTimeout, q.CreatedAt)
	if err != nil {
		return classify(err)
	}
	q.ID, _ = res.LastInsertId()
	return nil
}

// QueueByName resolves a queue within an environment.
func (s *Store) QueueByName(ctx context.Context, envID, name string) (*Queue, error) {
	return scanQueueFrom(s.db.QueryRowContext(ctx,
		`SELECT id, environment_id, name, url, fifo, visibility_timeout, created_at
		 FROM sqs_queues WHERE environment_id = ? AND name = ?`, envID, name))
}

// QueuesByEnvironment lists an environment's queues.
func (s *Store) QueuesByEnvironment(ctx context.Context, envID string) ([]*Queue, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, environment_id, name, url, fifo, visibility_timeout, created_at
		 FROM sqs_queues WHERE environment_id = ? ORDER BY name`, envID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []*Queue
	for rows.Next() {
		q, err := scanQueueFrom(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

// DeleteQueue removes a queue and its messages.
func (s *Store) DeleteQueue(ctx context.Context, id int64) error {
	return s.Tx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM sqs_messages WHERE queue_id = ?`, id); err != nil {
			return classify(err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM sqs_queues WHERE id = ?`, id)
		if err != nil {
			return classify(err)
		}
		return requireRow(res, "queue %d", id)
	})
}

// PurgeQueue drops all messages but keeps the queue.
func (s *Store) PurgeQueue(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sqs_messages WHERE queue_id = ?`, id)
	return classify(err)
}

// SendMessage enqueues a message, immediately visible.
func (s *Store) SendMessage(ctx context.Context, queueID int64, body string) (*Message, error) {
	m := &Message{
		ID:      uuid.NewString(),
		QueueID: queueID,
		Body:    body,
		SentAt:  s.Now(),
	}
	m.VisibleAt = m.SentAt
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sqs_messages (id, queue_id, body, visible_at, receive_count, sent_at)
		 VALUES (?, ?, ?, ?, 0, ?)`,
		m.ID, m.QueueID, m.Body, m.VisibleAt, m.SentAt)
	if err != nil {
		return nil, classify(err)
	}
	return m, nil
}

// ReceiveMessages atomically claims up to max visible messages: each claimed
// row gets visible_at pushed out by the visibility timeout and a fresh
// receipt handle. At-least-once: an unclaimed handle expires and the message
// becomes receivable again.
func (s *Store) ReceiveMessages(ctx context.Context, queueID int64, max, visibilityTimeout int) ([]*Message, error) {
	if max <= 0 {
		max = 1
	}
	now := s.Now()
	hidden := now.Add(time.Duration(visibilityTimeout) * time.Second)

	var out []*Message
	err := s.Tx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT id, body, receive_count, sent_at FROM sqs_messages
			 WHERE queue_id = ? AND visible_at <= ?
			 ORDER BY sent_at, id LIMIT ?`, queueID, now, max)
		if err != nil {
			return classify(err)
		}
		type claimed struct {
			m      *Message
			handle string
		}
		var batch []claimed
		for rows.Next() {
			m := &Message{QueueID: queueID, VisibleAt: hidden}
			if err := rows.Scan(&m.ID, &m.Body, &m.ReceiveCount, &m.SentAt); err != nil {
				rows.Close()
				return classify(err)
			}
			batch = append(batch, claimed{m: m, handle: uuid.NewString()})
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return classify(err)
		}

		for _, c := range batch {
			c.m.ReceiveCount++
			h := c.handle
			c.m.ReceiptHandle = &h
			if _, err := tx.ExecContext(ctx,
				`UPDATE sqs_messages SET visible_at = ?, receipt_handle = ?, receive_count = receive_count + 1
				 WHERE id = ?`, hidden, h, c.m.ID); err != nil {
				return classify(err)
			}
			out = append(out, c.m)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteMessageByHandle removes the message a receipt handle refers to.
// A stale handle deletes nothing, which the SQS translator treats as success.
func (s *Store) DeleteMessageByHandle(ctx context.Context, queueID int64, handle string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM sqs_messages WHERE queue_id = ? AND receipt_handle = ?`, queueID, handle)
	if err != nil {
		return false, classify(err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ChangeMessageVisibility moves the redelivery horizon for a claimed message.
func (s *Store) ChangeMessageVisibility(ctx context.Context, queueID int64, handle string, timeout int) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sqs_messages SET visible_at = ? WHERE queue_id = ? AND receipt_handle = ?`,
		s.Now().Add(time.Duration(timeout)*time.Second), queueID, handle)
	if err != nil {
		return false, classify(err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func scanQueueFrom(r rowScanner) (*Queue, error) {
	var q Queue
	err := r.Scan(&q.ID, &q.EnvironmentID, &q.Name, &q.URL, &q.FIFO, &q.VisibilityTimeout, &q.CreatedAt)
	if err != nil {
		return nil, classify(err)
	}
	return &q, nil
}
