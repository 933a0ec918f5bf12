package emu

import (
	"context"
	"database/sql"
	"encoding/json"
	"encoding/xml"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/afterdarksys/mockfactory/internal/catalog"
	"github.com/afterdarksys/mockfactory/internal/dnszone"
	"github.com/afterdarksys/mockfactory/internal/objectstore"
	"github.com/afterdarksys/mockfactory/internal/ports"
	"github.com/afterdarksys/mockfactory/internal/provision"
	"github.com/afterdarksys/mockfactory/internal/runtime"
	"github.com/afterdarksys/mockfactory/internal/store"
)

type fixture struct {
	store    *store.Store
	rt       *runtime.Fake
	obj      *objectstore.MemStore
	router   *Router
	owner    *store.User
	stranger *store.User
	env      *store.Environment
	routes   http.Handler
}

// newFixture provisions one environment with a managed S3 namespace; the
// non-storage families need no declared service.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	owner, err := st.CreateUser(ctx, "owner@example.com", "", "free")
	require.NoError(t, err)
	stranger, err := st.CreateUser(ctx, "stranger@example.com", "", "free")
	require.NoError(t, err)

	env := &store.Environment{
		ID:                store.NewEnvironmentID(),
		UserID:            owner.ID,
		Name:              "sandbox",
		AutoShutdownAfter: time.Hour,
	}
	require.NoError(t, st.Tx(ctx, func(tx *sql.Tx) error {
		return st.CreateEnvironment(ctx, tx, env)
	}))

	rt := runtime.NewFake()
	obj := objectstore.NewMemStore()
	pa := ports.New(st, 30000, 30010, slog.Default())
	prov := provision.New(st, rt, obj, pa, "localhost", "test.local", slog.Default())
	prov.ReadinessTimeout = 2 * time.Second
	_, err = prov.ProvisionAll(ctx, env, []catalog.Kind{catalog.AWSS3})
	require.NoError(t, err)

	router := New(st, obj, rt, dnszone.NewRecords(st), "test.local", slog.Default())
	return &fixture{
		store: st, rt: rt, obj: obj, router: router,
		owner: owner, stranger: stranger, env: env,
		routes: router.Routes(),
	}
}

func (f *fixture) do(t *testing.T, u *store.User, method, path string, body io.Reader, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	if u != nil {
		req = req.WithContext(WithUser(req.Context(), u))
	}
	w := httptest.NewRecorder()
	f.routes.ServeHTTP(w, req)
	return w
}

func (f *fixture) postForm(t *testing.T, u *store.User, path string, vals url.Values) *httptest.ResponseRecorder {
	t.Helper()
	return f.do(t, u, http.MethodPost, path, strings.NewReader(vals.Encode()),
		map[string]string{"Content-Type": "application/x-www-form-urlencoded"})
}

func (f *fixture) awsPath(service string) string {
	return "/aws/" + f.env.ID + "/" + service
}

func TestEnvGate(t *testing.T) {
	f := newFixture(t)

	// No caller identity.
	w := f.do(t, nil, http.MethodGet, f.awsPath("s3")+"/", nil, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "AccessDenied")

	// Unknown environment.
	w = f.do(t, f.owner, http.MethodGet, "/aws/env_missing/s3/", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "NoSuchEnvironment")

	// Cross-user access is Forbidden, never NotFound.
	w = f.do(t, f.stranger, http.MethodGet, f.awsPath("s3")+"/", nil, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "AccessDenied")
}

func TestS3BucketAndObjectLifecycle(t *testing.T) {
	f := newFixture(t)
	base := f.awsPath("s3")

	w := f.do(t, f.owner, http.MethodPut, base+"/reports", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "/reports", w.Header().Get("Location"))

	// Duplicate bucket conflicts.
	w = f.do(t, f.owner, http.MethodPut, base+"/reports", nil, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = f.do(t, f.owner, http.MethodPut, base+"/reports/2026/q1.csv",
		strings.NewReader("hello"), map[string]string{"Content-Type": "text/csv"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, `"5d41402abc4b2a76b9719d911017c592"`, w.Header().Get("ETag"))

	w = f.do(t, f.owner, http.MethodGet, base+"/reports/2026/q1.csv", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "hello", w.Body.String())
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))

	w = f.do(t, f.owner, http.MethodGet, base+"/reports?list-type=2", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list s3ListObjectsResult
	require.NoError(t, xml.Unmarshal(w.Body.Bytes(), &list))
	require.NotNil(t, list.KeyCount)
	assert.Equal(t, 1, *list.KeyCount)
	require.Len(t, list.Contents, 1)
	assert.Equal(t, "2026/q1.csv", list.Contents[0].Key)

	// A bucket with objects refuses deletion.
	w = f.do(t, f.owner, http.MethodDelete, base+"/reports", nil, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "BucketNotEmpty")

	w = f.do(t, f.owner, http.MethodDelete, base+"/reports/2026/q1.csv", nil, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	// Deleting a missing key succeeds, matching S3.
	w = f.do(t, f.owner, http.MethodDelete, base+"/reports/2026/q1.csv", nil, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = f.do(t, f.owner, http.MethodGet, base+"/reports/2026/q1.csv", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "NoSuchKey")

	w = f.do(t, f.owner, http.MethodDelete, base+"/reports", nil, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = f.do(t, f.owner, http.MethodGet, base+"/ghost", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "NoSuchBucket")
}

func TestS3RequiresDeclaredService(t *testing.T) {
	f := newFixture(t)

	bare := &store.Environment{
		ID:                store.NewEnvironmentID(),
		UserID:            f.owner.ID,
		Name:              "no-storage",
		AutoShutdownAfter: time.Hour,
	}
	ctx := context.Background()
	require.NoError(t, f.store.Tx(ctx, func(tx *sql.Tx) error {
		return f.store.CreateEnvironment(ctx, tx, bare)
	}))

	w := f.do(t, f.owner, http.MethodPut, "/aws/"+bare.ID+"/s3/bucket", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "InvalidRequest")
}

func TestSQSQueueFlow(t *testing.T) {
	f := newFixture(t)
	base := f.awsPath("sqs")

	w := f.postForm(t, f.owner, base, url.Values{"Action": {"CreateQueue"}, "QueueName": {"jobs"}})
	require.Equal(t, http.StatusOK, w.Code)
	var created sqsCreateQueueResponse
	require.NoError(t, xml.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, "https://sqs."+f.env.ID+".test.local/jobs", created.QueueURL)

	// CreateQueue is idempotent for the same name.
	w = f.postForm(t, f.owner, base, url.Values{"Action": {"CreateQueue"}, "QueueName": {"jobs"}})
	require.Equal(t, http.StatusOK, w.Code)
	var again sqsCreateQueueResponse
	require.NoError(t, xml.Unmarshal(w.Body.Bytes(), &again))
	assert.Equal(t, created.QueueURL, again.QueueURL)

	w = f.postForm(t, f.owner, base, url.Values{"Action": {"GetQueueUrl"}, "QueueName": {"nope"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "QueueDoesNotExist")

	w = f.postForm(t, f.owner, base, url.Values{
		"Action": {"SendMessage"}, "QueueUrl": {created.QueueURL}, "MessageBody": {"payload"},
	})
	require.Equal(t, http.StatusOK, w.Code)
	var sent sqsSendMessageResponse
	require.NoError(t, xml.Unmarshal(w.Body.Bytes(), &sent))
	assert.Equal(t, etagFor([]byte("payload")), sent.MD5)

	w = f.postForm(t, f.owner, base, url.Values{
		"Action": {"ReceiveMessage"}, "QueueUrl": {created.QueueURL},
	})
	require.Equal(t, http.StatusOK, w.Code)
	var recv sqsReceiveMessageResponse
	require.NoError(t, xml.Unmarshal(w.Body.Bytes(), &recv))
	require.Len(t, recv.Messages, 1)
	assert.Equal(t, "payload", recv.Messages[0].Body)
	require.NotEmpty(t, recv.Messages[0].ReceiptHandle)

	w = f.postForm(t, f.owner, base, url.Values{
		"Action": {"DeleteMessage"}, "QueueUrl": {created.QueueURL},
		"ReceiptHandle": {recv.Messages[0].ReceiptHandle},
	})
	assert.Equal(t, http.StatusOK, w.Code)

	// A stale handle still acks.
	w = f.postForm(t, f.owner, base, url.Values{
		"Action": {"DeleteMessage"}, "QueueUrl": {created.QueueURL},
		"ReceiptHandle": {recv.Messages[0].ReceiptHandle},
	})
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.postForm(t, f.owner, base, url.Values{
		"Action": {"ChangeMessageVisibility"}, "QueueUrl": {created.QueueURL},
		"ReceiptHandle": {"bogus"}, "VisibilityTimeout": {"60"},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "ReceiptHandleIsInvalid")

	w = f.postForm(t, f.owner, base, url.Values{"Action": {"SubscribeToTopic"}})
	assert.Equal(t, http.StatusNotImplemented, w.Code)
}

func (f *fixture) dynamo(t *testing.T, op string, body string) *httptest.ResponseRecorder {
	t.Helper()
	return f.do(t, f.owner, http.MethodPost, f.awsPath("dynamodb"), strings.NewReader(body),
		map[string]string{
			"Content-Type": "application/x-amz-json-1.0",
			"X-Amz-Target": "DynamoDB_20120810." + op,
		})
}

func TestDynamoConditionalWrites(t *testing.T) {
	f := newFixture(t)

	w := f.dynamo(t, "CreateTable", `{
		"TableName": "orders",
		"KeySchema": [{"AttributeName": "pk", "KeyType": "HASH"}],
		"AttributeDefinitions": [{"AttributeName": "pk", "AttributeType": "S"}]
	}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = f.dynamo(t, "PutItem", `{
		"TableName": "orders",
		"Item": {"pk": {"S": "o-1"}, "total": {"N": "42"}}
	}`)
	require.Equal(t, http.StatusOK, w.Code)

	// Second insert guarded by attribute_not_exists fails the condition.
	w = f.dynamo(t, "PutItem", `{
		"TableName": "orders",
		"Item": {"pk": {"S": "o-1"}, "total": {"N": "99"}},
		"ConditionExpression": "attribute_not_exists(pk)"
	}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "ConditionalCheckFailedException")

	w = f.dynamo(t, "GetItem", `{
		"TableName": "orders",
		"Key": {"pk": {"S": "o-1"}}
	}`)
	require.Equal(t, http.StatusOK, w.Code)
	var got struct {
		Item dynamoItem `json:"Item"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "42", got.Item["total"]["N"])

	// GetItem on a missing key is an empty 200, not an error.
	w = f.dynamo(t, "GetItem", `{
		"TableName": "orders",
		"Key": {"pk": {"S": "missing"}}
	}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{}`, w.Body.String())

	w = f.dynamo(t, "Query", `{
		"TableName": "orders",
		"KeyConditionExpression": "pk = :v",
		"ExpressionAttributeValues": {":v": {"S": "o-1"}}
	}`)
	require.Equal(t, http.StatusOK, w.Code)
	var q struct {
		Count int `json:"Count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &q))
	assert.Equal(t, 1, q.Count)

	w = f.dynamo(t, "GetItem", `{"TableName": "ghost", "Key": {"pk": {"S": "x"}}}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "ResourceNotFoundException")
}

func TestLambdaLifecycleAndInvoke(t *testing.T) {
	f := newFixture(t)
	f.rt.ExecOutput = `{"status":"ok"}`
	base := f.awsPath("lambda") + "/2015-03-31/functions"
	hdr := map[string]string{"Content-Type": "application/json"}

	w := f.do(t, f.owner, http.MethodPost, base,
		strings.NewReader(`{"FunctionName":"resize","Runtime":"perl5"}`), hdr)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "unsupported runtime")

	w = f.do(t, f.owner, http.MethodPost, base,
		strings.NewReader(`{"FunctionName":"resize","Runtime":"python3.11","Handler":"app.handler"}`), hdr)
	require.Equal(t, http.StatusCreated, w.Code)
	var cfg lambdaConfig
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &cfg))
	assert.Equal(t, 128, cfg.MemorySize, "default memory")
	assert.Equal(t, 3, cfg.Timeout, "default timeout")

	w = f.do(t, f.owner, http.MethodGet, base+"/resize", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"Configuration"`)

	w = f.do(t, f.owner, http.MethodPost, base+"/resize/invocations",
		strings.NewReader(`{"width":100}`), hdr)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "$LATEST", w.Header().Get("X-Amz-Executed-Version"))
	assert.Equal(t, `{"status":"ok"}`, w.Body.String())

	// With the concurrency bound at zero every invoke is throttled.
	f.router.LambdaConcurrency = 0
	w = f.do(t, f.owner, http.MethodPost, base+"/resize/invocations",
		strings.NewReader(`{}`), hdr)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), "TooManyRequestsException")
	f.router.LambdaConcurrency = 10

	w = f.do(t, f.owner, http.MethodDelete, base+"/resize", nil, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = f.do(t, f.owner, http.MethodGet, base+"/resize", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestEC2InstanceStates(t *testing.T) {
	f := newFixture(t)
	base := f.awsPath("ec2")

	w := f.postForm(t, f.owner, base, url.Values{
		"Action": {"RunInstances"}, "MinCount": {"2"}, "InstanceType": {"t3.small"},
	})
	require.Equal(t, http.StatusOK, w.Code)
	var run ec2RunResponse
	require.NoError(t, xml.Unmarshal(w.Body.Bytes(), &run))
	require.Len(t, run.Instances, 2)
	id := run.Instances[0].InstanceID
	assert.True(t, strings.HasPrefix(id, "i-"))
	assert.Equal(t, "pending", run.Instances[0].State.Name)
	assert.Equal(t, "t3.small", run.Instances[0].InstanceType)

	// Pending instances settle to running on describe.
	w = f.postForm(t, f.owner, base, url.Values{"Action": {"DescribeInstances"}})
	require.Equal(t, http.StatusOK, w.Code)
	var desc ec2DescribeResponse
	require.NoError(t, xml.Unmarshal(w.Body.Bytes(), &desc))
	require.Len(t, desc.Reservations, 1)
	for _, inst := range desc.Reservations[0].Instances {
		assert.Equal(t, "running", inst.State.Name)
	}

	w = f.postForm(t, f.owner, base, url.Values{"Action": {"StopInstances"}, "InstanceId.1": {id}})
	require.Equal(t, http.StatusOK, w.Code)
	var change ec2StateChangeResponse
	require.NoError(t, xml.Unmarshal(w.Body.Bytes(), &change))
	require.Len(t, change.Changes, 1)
	assert.Equal(t, "stopping", change.Changes[0].CurrentState.Name)

	// Stopping settles to stopped; start takes it back through pending.
	w = f.postForm(t, f.owner, base, url.Values{"Action": {"DescribeInstances"}})
	require.Equal(t, http.StatusOK, w.Code)
	w = f.postForm(t, f.owner, base, url.Values{"Action": {"StartInstances"}, "InstanceId.1": {id}})
	require.Equal(t, http.StatusOK, w.Code)

	w = f.postForm(t, f.owner, base, url.Values{"Action": {"TerminateInstances"}, "InstanceId.1": {id}})
	require.Equal(t, http.StatusOK, w.Code)

	w = f.postForm(t, f.owner, base, url.Values{"Action": {"StopInstances"}, "InstanceId.1": {id}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "IncorrectInstanceState")

	w = f.postForm(t, f.owner, base, url.Values{"Action": {"RunInstances"}, "MinCount": {"21"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "InstanceLimitExceeded")
}

func TestRoute53Zones(t *testing.T) {
	f := newFixture(t)
	base := f.awsPath("route53") + "/2013-04-01/hostedzone"

	w := f.do(t, f.owner, http.MethodPost, base, strings.NewReader(
		`<CreateHostedZoneRequest><Name>example.com.</Name></CreateHostedZoneRequest>`), nil)
	require.Equal(t, http.StatusCreated, w.Code)
	var created r53CreateZoneResponse
	require.NoError(t, xml.Unmarshal(w.Body.Bytes(), &created))
	zoneID := strings.TrimPrefix(created.HostedZone.ID, "/hostedzone/")
	assert.True(t, strings.HasPrefix(zoneID, "Z"))
	assert.Equal(t, "example.com.", created.HostedZone.Name)

	change := `<ChangeResourceRecordSetsRequest><ChangeBatch><Changes>
		<Change><Action>CREATE</Action><ResourceRecordSet>
			<Name>www.example.com.</Name><Type>A</Type><TTL>300</TTL>
			<ResourceRecords><ResourceRecord><Value>10.0.0.9</Value></ResourceRecord></ResourceRecords>
		</ResourceRecordSet></Change>
		<Change><Action>CREATE</Action><ResourceRecordSet>
			<Name>example.com.</Name><Type>MX</Type><TTL>300</TTL>
			<ResourceRecords><ResourceRecord><Value>10 mail.example.com.</Value></ResourceRecord></ResourceRecords>
		</ResourceRecordSet></Change>
	</Changes></ChangeBatch></ChangeResourceRecordSetsRequest>`
	w = f.do(t, f.owner, http.MethodPost, base+"/"+zoneID+"/rrset", strings.NewReader(change), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var chResp r53ChangeResponse
	require.NoError(t, xml.Unmarshal(w.Body.Bytes(), &chResp))
	assert.Equal(t, "INSYNC", chResp.ChangeInfo.Status)

	w = f.do(t, f.owner, http.MethodGet, base+"/"+zoneID+"/rrset", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list r53ListRRSetsResponse
	require.NoError(t, xml.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.RecordSets, 2)
	values := make(map[string]string)
	for _, rs := range list.RecordSets {
		values[rs.Type] = rs.Records[0].Value
	}
	assert.Equal(t, "10.0.0.9", values["A"])
	assert.Equal(t, "10 mail.example.com", values["MX"], "numeric prefix re-rendered")

	del := `<ChangeResourceRecordSetsRequest><ChangeBatch><Changes>
		<Change><Action>DELETE</Action><ResourceRecordSet>
			<Name>www.example.com.</Name><Type>A</Type><TTL>300</TTL>
			<ResourceRecords><ResourceRecord><Value>10.0.0.9</Value></ResourceRecord></ResourceRecords>
		</ResourceRecordSet></Change>
	</Changes></ChangeBatch></ChangeResourceRecordSetsRequest>`
	w = f.do(t, f.owner, http.MethodPost, base+"/"+zoneID+"/rrset", strings.NewReader(del), nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, f.owner, http.MethodGet, base+"/"+zoneID+"/rrset", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	list = r53ListRRSetsResponse{}
	require.NoError(t, xml.Unmarshal(w.Body.Bytes(), &list))
	assert.Len(t, list.RecordSets, 1)

	// Malformed MX value refuses the whole change.
	bad := `<ChangeResourceRecordSetsRequest><ChangeBatch><Changes>
		<Change><Action>CREATE</Action><ResourceRecordSet>
			<Name>example.com.</Name><Type>MX</Type><TTL>300</TTL>
			<ResourceRecords><ResourceRecord><Value>not-a-priority mail</Value></ResourceRecord></ResourceRecords>
		</ResourceRecordSet></Change>
	</Changes></ChangeBatch></ChangeResourceRecordSetsRequest>`
	w = f.do(t, f.owner, http.MethodPost, base+"/"+zoneID+"/rrset", strings.NewReader(bad), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestIAMEntities(t *testing.T) {
	f := newFixture(t)
	base := f.awsPath("iam")

	w := f.postForm(t, f.owner, base, url.Values{"Action": {"CreateUser"}, "UserName": {"ci-bot"}})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "arn:aws:iam::"+f.env.ID+":user/ci-bot")

	w = f.postForm(t, f.owner, base, url.Values{"Action": {"CreateUser"}, "UserName": {"ci-bot"}})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "EntityAlreadyExists")

	w = f.postForm(t, f.owner, base, url.Values{"Action": {"GetUser"}, "UserName": {"ci-bot"}})
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.postForm(t, f.owner, base, url.Values{"Action": {"GetUser"}, "UserName": {"ghost"}})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "NoSuchEntity")

	w = f.postForm(t, f.owner, base, url.Values{"Action": {"DeleteUser"}, "UserName": {"ci-bot"}})
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.postForm(t, f.owner, base, url.Values{"Action": {"DeleteUser"}, "UserName": {"ci-bot"}})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestEnvFromHost(t *testing.T) {
	assert.Equal(t, "env_abc", envFromHost("s3.env_abc.test.local", "test.local"))
	assert.Equal(t, "env_abc", envFromHost("s3.env_abc.test.local:8080", "test.local"))
	assert.Equal(t, "", envFromHost("test.local", "test.local"))
	assert.Equal(t, "", envFromHost("s3.env_abc.other.example", "test.local"))
}
