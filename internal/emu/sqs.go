package emu

import (
	"encoding/xml"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/afterdarksys/mockfactory/internal/store"
)

// SQS translator: Query-protocol subset over the message tables. Receipt
// handles are opaque random tokens minted per receive; delivery is
// at-least-once with redelivery on handle expiry.

func (rt *Router) sqsDispatch(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeQueryError(w, http.StatusBadRequest, "InvalidRequest", "unparseable form")
		return
	}
	switch action := r.Form.Get("Action"); action {
	case "CreateQueue":
		rt.sqsCreateQueue(w, r)
	case "GetQueueUrl":
		rt.sqsGetQueueURL(w, r)
	case "ListQueues":
		rt.sqsListQueues(w, r)
	case "DeleteQueue":
		rt.sqsDeleteQueue(w, r)
	case "SendMessage":
		rt.sqsSendMessage(w, r)
	case "ReceiveMessage":
		rt.sqsReceiveMessage(w, r)
	case "DeleteMessage":
		rt.sqsDeleteMessage(w, r)
	case "ChangeMessageVisibility":
		rt.sqsChangeVisibility(w, r)
	case "PurgeQueue":
		rt.sqsPurgeQueue(w, r)
	default:
		notImplementedQuery(w, action)
	}
}

func (rt *Router) sqsQueueURL(envID, name string) string {
	return fmt.Sprintf("https://sqs.%s.%s/%s", envID, rt.BaseDomain, name)
}

// queueFromURL resolves the QueueUrl form field back to a queue row.
func (rt *Router) queueFromURL(r *http.Request) (*store.Queue, error) {
	env := envFrom(r.Context())
	raw := r.Form.Get("QueueUrl")
	name := raw[strings.LastIndexByte(raw, '/')+1:]
	return rt.Store.QueueByName(r.Context(), env.ID, name)
}

type sqsCreateQueueResponse struct {
	XMLName   xml.Name `xml:"CreateQueueResponse"`
	QueueURL  string   `xml:"CreateQueueResult>QueueUrl"`
	RequestID string   `xml:"ResponseMetadata>RequestId"`
}

func (rt *Router) sqsCreateQueue(w http.ResponseWriter, r *http.Request) {
	env := envFrom(r.Context())
	name := r.Form.Get("QueueName")
	if name == "" {
		writeQueryError(w, http.StatusBadRequest, "MissingParameter", "QueueName required")
		return
	}
	visibility := rt.SQSVisibilityDefault
	for i := 1; ; i++ {
		attr := r.Form.Get("Attribute." + strconv.Itoa(i) + ".Name")
		if attr == "" {
			break
		}
		if attr == "VisibilityTimeout" {
			if v, err := strconv.Atoi(r.Form.Get("Attribute." + strconv.Itoa(i) + ".Value")); err == nil {
				visibility = v
			}
		}
	}

	// CreateQueue is idempotent for an existing queue with the same name.
	if q, err := rt.Store.QueueByName(r.Context(), env.ID, name); err == nil {
		writeXML(w, http.StatusOK, sqsCreateQueueResponse{QueueURL: q.URL, RequestID: uuid.NewString()})
		return
	}
	q := &store.Queue{
		EnvironmentID:     env.ID,
		Name:              name,
		URL:               rt.sqsQueueURL(env.ID, name),
		FIFO:              strings.HasSuffix(name, ".fifo"),
		VisibilityTimeout: visibility,
	}
	if err := rt.Store.CreateQueue(r.Context(), q); err != nil {
		queryFault(w, err, "QueueDoesNotExist")
		return
	}
	writeXML(w, http.StatusOK, sqsCreateQueueResponse{QueueURL: q.URL, RequestID: uuid.NewString()})
}

type sqsGetQueueURLResponse struct {
	XMLName   xml.Name `xml:"GetQueueUrlResponse"`
	QueueURL  string   `xml:"GetQueueUrlResult>QueueUrl"`
	RequestID string   `xml:"ResponseMetadata>RequestId"`
}

func (rt *Router) sqsGetQueueURL(w http.ResponseWriter, r *http.Request) {
	env := envFrom(r.Context())
	q, err := rt.Store.QueueByName(r.Context(), env.ID, r.Form.Get("QueueName"))
	if err != nil {
		queryFault(w, err, "QueueDoesNotExist")
		return
	}
	writeXML(w, http.StatusOK, sqsGetQueueURLResponse{QueueURL: q.URL, RequestID: uuid.NewString()})
}

type sqsListQueuesResponse struct {
	XMLName   xml.Name `xml:"ListQueuesResponse"`
	QueueURLs []string `xml:"ListQueuesResult>QueueUrl"`
	RequestID string   `xml:"ResponseMetadata>RequestId"`
}

func (rt *Router) sqsListQueues(w http.ResponseWriter, r *http.Request) {
	env := envFrom(r.Context())
	queues, err := rt.Store.QueuesByEnvironment(r.Context(), env.ID)
	if err != nil {
		queryFault(w, err, "QueueDoesNotExist")
		return
	}
	resp := sqsListQueuesResponse{RequestID: uuid.NewString()}
	prefix := r.Form.Get("QueueNamePrefix")
	for _, q := range queues {
		if prefix != "" && !strings.HasPrefix(q.Name, prefix) {
			continue
		}
		resp.QueueURLs = append(resp.QueueURLs, q.URL)
	}
	writeXML(w, http.StatusOK, resp)
}

type sqsEmptyResponse struct {
	XMLName   xml.Name
	RequestID string `xml:"ResponseMetadata>RequestId"`
}

func sqsAck(w http.ResponseWriter, root string) {
	writeXML(w, http.StatusOK, sqsEmptyResponse{
		XMLName:   xml.Name{Local: root},
		RequestID: uuid.NewString(),
	})
}

func (rt *Router) sqsDeleteQueue(w http.ResponseWriter, r *http.Request) {
	q, err := rt.queueFromURL(r)
	if err != nil {
		queryFault(w, err, "QueueDoesNotExist")
		return
	}
	if err := rt.Store.DeleteQueue(r.Context(), q.ID); err != nil {
		queryFault(w, err, "QueueDoesNotExist")
		return
	}
	sqsAck(w, "DeleteQueueResponse")
}

func (rt *Router) sqsPurgeQueue(w http.ResponseWriter, r *http.Request) {
	q, err := rt.queueFromURL(r)
	if err != nil {
		queryFault(w, err, "QueueDoesNotExist")
		return
	}
	if err := rt.Store.PurgeQueue(r.Context(), q.ID); err != nil {
		queryFault(w, err, "QueueDoesNotExist")
		return
	}
	sqsAck(w, "PurgeQueueResponse")
}

type sqsSendMessageResponse struct {
	XMLName   xml.Name `xml:"SendMessageResponse"`
	MessageID string   `xml:"SendMessageResult>MessageId"`
	MD5       string   `xml:"SendMessageResult>MD5OfMessageBody"`
	RequestID string   `xml:"ResponseMetadata>RequestId"`
}

func (rt *Router) sqsSendMessage(w http.ResponseWriter, r *http.Request) {
	q, err := rt.queueFromURL(r)
	if err != nil {
		queryFault(w, err, "QueueDoesNotExist")
		return
	}
	body := r.Form.Get("MessageBody")
	if body == "" {
		writeQueryError(w, http.StatusBadRequest, "MissingParameter", "MessageBody required")
		return
	}
	m, err := rt.Store.SendMessage(r.Context(), q.ID, body)
	if err != nil {
		queryFault(w, err, "QueueDoesNotExist")
		return
	}
	writeXML(w, http.StatusOK, sqsSendMessageResponse{
		MessageID: m.ID,
		MD5:       etagFor([]byte(body)),
		RequestID: uuid.NewString(),
	})
}

type sqsMessage struct {
	MessageID     string `xml:"MessageId"`
	ReceiptHandle string `xml:"ReceiptHandle"`
	MD5OfBody     string `xml:"MD5OfBody"`
	Body          string `xml:"Body"`
}

type sqsReceiveMessageResponse struct {
	XMLName   xml.Name     `xml:"ReceiveMessageResponse"`
	Messages  []sqsMessage `xml:"ReceiveMessageResult>Message"`
	RequestID string       `xml:"ResponseMetadata>RequestId"`
}

func (rt *Router) sqsReceiveMessage(w http.ResponseWriter, r *http.Request) {
	q, err := rt.queueFromURL(r)
	if err != nil {
		queryFault(w, err, "QueueDoesNotExist")
		return
	}
	max, _ := strconv.Atoi(r.Form.Get("MaxNumberOfMessages"))
	if max < 1 {
		max = 1
	}
	if max > 10 {
		max = 10
	}
	visibility := q.VisibilityTimeout
	if v := r.Form.Get("VisibilityTimeout"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			visibility = n
		}
	}
	msgs, err := rt.Store.ReceiveMessages(r.Context(), q.ID, max, visibility)
	if err != nil {
		queryFault(w, err, "QueueDoesNotExist")
		return
	}
	resp := sqsReceiveMessageResponse{RequestID: uuid.NewString()}
	for _, m := range msgs {
		resp.Messages = append(resp.Messages, sqsMessage{
			MessageID:     m.ID,
			ReceiptHandle: *m.ReceiptHandle,
			MD5OfBody:     etagFor([]byte(m.Body)),
			Body:          m.Body,
		})
	}
	writeXML(w, http.StatusOK, resp)
}

func (rt *Router) sqsDeleteMessage(w http.ResponseWriter, r *http.Request) {
	q, err := rt.queueFromURL(r)
	if err != nil {
		queryFault(w, err, "QueueDoesNotExist")
		return
	}
	handle := r.Form.Get("ReceiptHandle")
	if handle == "" {
		writeQueryError(w, http.StatusBadRequest, "MissingParameter", "ReceiptHandle required")
		return
	}
	// A stale handle deletes nothing; SQS treats that as success.
	if _, err := rt.Store.DeleteMessageByHandle(r.Context(), q.ID, handle); err != nil {
		queryFault(w, err, "QueueDoesNotExist")
		return
	}
	sqsAck(w, "DeleteMessageResponse")
}

func (rt *Router) sqsChangeVisibility(w http.ResponseWriter, r *http.Request) {
	q, err := rt.queueFromURL(r)
	if err != nil {
		queryFault(w, err, "QueueDoesNotExist")
		return
	}
	handle := r.Form.Get("ReceiptHandle")
	timeout, err := strconv.Atoi(r.Form.Get("VisibilityTimeout"))
	if handle == "" || err != nil {
		writeQueryError(w, http.StatusBadRequest, "MissingParameter",
			"ReceiptHandle and VisibilityTimeout required")
		return
	}
	changed, err := rt.Store.ChangeMessageVisibility(r.Context(), q.ID, handle, timeout)
	if err != nil {
		queryFault(w, err, "QueueDoesNotExist")
		return
	}
	if !changed {
		writeQueryError(w, http.StatusBadRequest, "ReceiptHandleIsInvalid", "unknown receipt handle")
		return
	}
	sqsAck(w, "ChangeMessageVisibilityResponse")
}
