package metadatastore

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/denghuinow/kg-api-server/internal/kgtypes"
)

// Neo4jStore implements Store against a Neo4j database using one session
// per call, with ExecuteWrite/ExecuteRead closures and an explicit
// session.Close on return.
//
// KGState is a single (:KGState {graph_name:"default"}) node; KGTask rows
// are (:KGTask {task_id}) nodes. The admission CAS and every commit run as
// one Cypher statement each so Neo4j's own transaction isolation — not an
// in-process mutex — is what makes exactly one concurrent TryAcquire win.
type Neo4jStore struct {
	driver    neo4j.DriverWithContext
	database  string
	graphName string
}

// NewNeo4jStore opens a driver against uri and verifies connectivity.
func NewNeo4jStore(ctx context.Context, uri, username, password, database string) (*Neo4jStore, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("metadatastore: create driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, fmt.Errorf("metadatastore: connect: %w", err)
	}
	return &Neo4jStore{driver: driver, database: database, graphName: defaultGraphName}, nil
}

func (s *Neo4jStore) session(ctx context.Context, mode neo4j.AccessMode) neo4j.SessionWithContext {
	return s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: mode, DatabaseName: s.database})
}

func (s *Neo4jStore) Read(ctx context.Context) (*KGState, error) {
	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	result, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
			MERGE (s:KGState {graph_name: $graphName})
			ON CREATE SET s.status = $idle, s.latest_ready_version = null,
			              s.current_task_id = null, s.updated_at = datetime()
			RETURN s.status AS status, s.latest_ready_version AS latest,
			       s.current_task_id AS taskID, s.updated_at AS updatedAt
		`, map[string]any{"graphName": s.graphName, "idle": string(kgtypes.StatusIdle)})
		if err != nil {
			return nil, err
		}
		record, err := res.Single(ctx)
		if err != nil {
			return nil, err
		}
		return recordToState(record), nil
	})
	if err != nil {
		return nil, wrapf("Read", err)
	}
	return result.(*KGState), nil
}

// tryAcquireCypher is the admission CAS. The inner CALL is OPTIONAL so a
// failed CAS (status already BUILDING/UPDATING) still returns the outer
// KGState row instead of dropping it — a plain correlated CALL behaves
// like an inner join and would make the whole query return zero records
// whenever the filter excludes the row, turning every conflict into a
// driver error instead of a reported conflict. coalesce(granted, false)
// turns the inner subquery's absent RETURN into an explicit false rather
// than a null.
const tryAcquireCypher = `
	MERGE (s:KGState {graph_name: $graphName})
	ON CREATE SET s.status = $idle, s.latest_ready_version = null,
	              s.current_task_id = null, s.updated_at = datetime()
	WITH s
	OPTIONAL CALL {
		WITH s
		WITH s WHERE NOT s.status IN [$building, $updating]
		SET s.status = $target, s.current_task_id = $taskID, s.updated_at = datetime()
		CREATE (t:KGTask {
			task_id: $taskID, type: $taskType, version: $version,
			base_version: $baseVersion, started_at: datetime(),
			finished_at: null, progress: 0, error: ""
		})
		RETURN true AS granted
	}
	RETURN s.status AS status, s.latest_ready_version AS latest,
	       s.current_task_id AS taskID, s.updated_at AS updatedAt,
	       coalesce(granted, false) AS granted
`

// TryAcquire is the admission compare-and-swap: it succeeds only if the
// current status is not BUILDING/UPDATING, atomically inserting the new
// KGTask in the same transaction.
func (s *Neo4jStore) TryAcquire(ctx context.Context, targetStatus Status, taskID string, taskType TaskType, version string, baseVersion *string) (*KGState, *KGTask, error) {
	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	type acquireResult struct {
		state   *KGState
		task    *KGTask
		granted bool
	}

	res, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, tryAcquireCypher, map[string]any{
			"graphName":   s.graphName,
			"idle":        string(kgtypes.StatusIdle),
			"building":    string(kgtypes.StatusBuilding),
			"updating":    string(kgtypes.StatusUpdating),
			"target":      string(targetStatus),
			"taskID":      taskID,
			"taskType":    string(taskType),
			"version":     version,
			"baseVersion": baseVersion,
		})
		if err != nil {
			return nil, err
		}
		record, err := result.Single(ctx)
		if err != nil {
			return nil, err
		}

		state := recordToState(record)
		granted, _ := record.Get("granted")
		out := acquireResult{state: state, granted: granted != nil && granted.(bool)}
		if out.granted {
			out.task = &KGTask{
				TaskID:      taskID,
				Type:        taskType,
				Version:     version,
				BaseVersion: baseVersion,
				StartedAt:   time.Now().UTC(),
			}
		}
		return out, nil
	})
	if err != nil {
		return nil, nil, wrapf("TryAcquire", err)
	}

	r := res.(acquireResult)
	if !r.granted {
		return r.state, nil, ErrConflict
	}
	return r.state, r.task, nil
}

func (s *Neo4jStore) CommitSuccess(ctx context.Context, taskID, newVersion string) error {
	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `
			MATCH (s:KGState {graph_name: $graphName})
			WHERE s.current_task_id = $taskID
			SET s.status = $ready, s.current_task_id = null,
			    s.latest_ready_version = $version, s.updated_at = datetime()
			WITH s
			MATCH (t:KGTask {task_id: $taskID})
			SET t.finished_at = datetime(), t.progress = 100, t.error = ""
			RETURN count(s) AS matched
		`, map[string]any{
			"graphName": s.graphName, "taskID": taskID,
			"ready": string(kgtypes.StatusReady), "version": newVersion,
		})
		if err != nil {
			return nil, err
		}
		record, err := result.Single(ctx)
		if err != nil {
			return nil, err
		}
		matched, _ := record.Get("matched")
		if matched.(int64) == 0 {
			return nil, ErrStaleTask
		}
		return nil, nil
	})
	return wrapf("CommitSuccess", err)
}

func (s *Neo4jStore) CommitFailure(ctx context.Context, taskID, errMsg string) error {
	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `
			MATCH (s:KGState {graph_name: $graphName})
			WHERE s.current_task_id = $taskID
			SET s.status = $failed, s.current_task_id = null, s.updated_at = datetime()
			WITH s
			MATCH (t:KGTask {task_id: $taskID})
			SET t.finished_at = datetime(), t.error = $errMsg
			RETURN count(s) AS matched
		`, map[string]any{
			"graphName": s.graphName, "taskID": taskID,
			"failed": string(kgtypes.StatusFailed), "errMsg": errMsg,
		})
		if err != nil {
			return nil, err
		}
		record, err := result.Single(ctx)
		if err != nil {
			return nil, err
		}
		matched, _ := record.Get("matched")
		if matched.(int64) == 0 {
			return nil, ErrStaleTask
		}
		return nil, nil
	})
	return wrapf("CommitFailure", err)
}

// RecoverOnStartup sweeps any state left BUILDING/UPDATING by a crashed
// process to FAILED before the HTTP server starts accepting requests.
func (s *Neo4jStore) RecoverOnStartup(ctx context.Context) error {
	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx, `
			MATCH (s:KGState {graph_name: $graphName})
			WHERE s.status IN [$building, $updating]
			WITH s, s.current_task_id AS taskID
			SET s.status = $failed, s.current_task_id = null, s.updated_at = datetime()
			WITH taskID WHERE taskID IS NOT NULL
			MATCH (t:KGTask {task_id: taskID})
			SET t.finished_at = datetime(), t.error = $msg
		`, map[string]any{
			"graphName": s.graphName,
			"building":  string(kgtypes.StatusBuilding),
			"updating":  string(kgtypes.StatusUpdating),
			"failed":    string(kgtypes.StatusFailed),
			"msg":       "server restarted",
		})
		return nil, err
	})
	return wrapf("RecoverOnStartup", err)
}

func (s *Neo4jStore) GetTask(ctx context.Context, taskID string) (*KGTask, error) {
	session := s.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `MATCH (t:KGTask {task_id: $taskID}) RETURN t`, map[string]any{"taskID": taskID})
		if err != nil {
			return nil, err
		}
		record, err := res.Single(ctx)
		if err != nil {
			return nil, err
		}
		node, _ := record.Get("t")
		return recordToTask(node.(neo4j.Node)), nil
	})
	if err != nil {
		return nil, wrapf("GetTask", err)
	}
	return result.(*KGTask), nil
}

func (s *Neo4jStore) ListRecentTasks(ctx context.Context, limit int) ([]*KGTask, error) {
	session := s.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
			MATCH (t:KGTask)
			RETURN t ORDER BY t.started_at DESC LIMIT $limit
		`, map[string]any{"limit": limit})
		if err != nil {
			return nil, err
		}
		var tasks []*KGTask
		for res.Next(ctx) {
			node, _ := res.Record().Get("t")
			tasks = append(tasks, recordToTask(node.(neo4j.Node)))
		}
		return tasks, res.Err()
	})
	if err != nil {
		return nil, wrapf("ListRecentTasks", err)
	}
	return result.([]*KGTask), nil
}

func (s *Neo4jStore) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

func recordToState(record *neo4j.Record) *KGState {
	status, _ := record.Get("status")
	latest, _ := record.Get("latest")
	taskID, _ := record.Get("taskID")
	updatedAt, _ := record.Get("updatedAt")

	st := &KGState{
		GraphName: defaultGraphName,
		Status:    kgtypes.Status(status.(string)),
		UpdatedAt: neo4jTime(updatedAt),
	}
	if latest != nil {
		v := latest.(string)
		st.LatestReadyVersion = &v
	}
	if taskID != nil {
		v := taskID.(string)
		st.CurrentTaskID = &v
	}
	return st
}

func recordToTask(node neo4j.Node) *KGTask {
	props := node.Props
	task := &KGTask{
		TaskID:    props["task_id"].(string),
		Type:      kgtypes.TaskType(props["type"].(string)),
		Version:   props["version"].(string),
		StartedAt: neo4jTime(props["started_at"]),
	}
	if bv, ok := props["base_version"].(string); ok && bv != "" {
		task.BaseVersion = &bv
	}
	if fa := props["finished_at"]; fa != nil {
		t := neo4jTime(fa)
		task.FinishedAt = &t
	}
	if p, ok := props["progress"].(int64); ok {
		task.Progress = int(p)
	}
	if e, ok := props["error"].(string); ok {
		task.Error = e
	}
	return task
}

// neo4jTime unwraps the driver's mapping of Cypher's datetime() to time.Time.
func neo4jTime(v any) time.Time {
	if t, ok := v.(time.Time); ok {
		return t
	}
	return time.Time{}
}
