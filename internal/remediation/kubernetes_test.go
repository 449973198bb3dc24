package remediation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/spaceai-agentops/internal/domain"
	"github.com/xela07ax/spaceai-agentops/internal/infra"
	"go.uber.org/zap"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	policyv1 "k8s.io/api/policy/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/kubernetes/fake"
	k8stesting "k8s.io/client-go/testing"
)

func int32Ptr(v int32) *int32 { return &v }

func newTestKube(objs ...runtime.Object) (*Kube, *fake.Clientset) {
	cs := fake.NewSimpleClientset(objs...)
	k := NewKube(cs, infra.RemediationConfig{DefaultNamespace: "prod", ScaleStep: 2}, zap.NewNop())
	k.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return k, cs
}

func deployment(name string, replicas int32) *appsv1.Deployment {
	return &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: "prod", UID: types.UID(name + "-uid")},
		Spec: appsv1.DeploymentSpec{
			Replicas: int32Ptr(replicas),
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: map[string]string{"app": name}},
				Spec:       corev1.PodSpec{Containers: []corev1.Container{{Name: "app", Image: name + ":v3"}}},
			},
		},
	}
}

func replicaSet(dep *appsv1.Deployment, revision, image string) *appsv1.ReplicaSet {
	controller := true
	return &appsv1.ReplicaSet{
		ObjectMeta: metav1.ObjectMeta{
			Name:        dep.Name + "-" + revision,
			Namespace:   dep.Namespace,
			Annotations: map[string]string{revisionAnnotation: revision},
			OwnerReferences: []metav1.OwnerReference{{
				APIVersion: "apps/v1", Kind: "Deployment", Name: dep.Name, UID: dep.UID, Controller: &controller,
			}},
		},
		Spec: appsv1.ReplicaSetSpec{
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: map[string]string{"app": dep.Name, podTemplateHashLabel: revision}},
				Spec:       corev1.PodSpec{Containers: []corev1.Container{{Name: "app", Image: image}}},
			},
		},
	}
}

func getDeployment(t *testing.T, k *Kube, name string) *appsv1.Deployment {
	t.Helper()
	dep, err := k.cs.AppsV1().Deployments("prod").Get(context.Background(), name, metav1.GetOptions{})
	require.NoError(t, err)
	return dep
}

func TestKube_Scale(t *testing.T) {
	tests := []struct {
		name     string
		action   domain.ActionType
		params   map[string]any
		start    int32
		want     int32
		wantFail bool
	}{
		{name: "up by step", action: domain.ActionScaleUp, start: 3, want: 5},
		{name: "up to explicit", action: domain.ActionScaleUp, params: map[string]any{"replicas": float64(10)}, start: 3, want: 10},
		{name: "down floors at one", action: domain.ActionScaleDown, start: 2, want: 1},
		{name: "up cannot reduce", action: domain.ActionScaleUp, params: map[string]any{"replicas": "1"}, start: 3, want: 3, wantFail: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k, _ := newTestKube(deployment("api", tt.start))

			res := k.Workloads().Handle(context.Background(), "t1", domain.RemediationAction{
				Type: tt.action, Target: "prod/api", Parameters: tt.params,
			})

			assert.Equal(t, !tt.wantFail, res.Success, res.Error)
			assert.Equal(t, tt.want, *getDeployment(t, k, "api").Spec.Replicas)
		})
	}
}

func TestKube_RestartPod(t *testing.T) {
	k, _ := newTestKube(&corev1.Pod{ObjectMeta: metav1.ObjectMeta{Name: "api-1", Namespace: "prod"}})

	res := k.Workloads().Handle(context.Background(), "t1", domain.RemediationAction{Type: domain.ActionRestartPod, Target: "api-1"})
	require.True(t, res.Success, res.Error)

	_, err := k.cs.CoreV1().Pods("prod").Get(context.Background(), "api-1", metav1.GetOptions{})
	assert.Error(t, err)

	res = k.Workloads().Handle(context.Background(), "t1", domain.RemediationAction{Type: domain.ActionRestartPod, Target: "prod/missing"})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "prod/missing")
}

func TestKube_DrainNode(t *testing.T) {
	node := &corev1.Node{ObjectMeta: metav1.ObjectMeta{Name: "node-1"}}
	web := &corev1.Pod{ObjectMeta: metav1.ObjectMeta{Name: "web", Namespace: "prod"}, Spec: corev1.PodSpec{NodeName: "node-1"}}
	ds := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: "fluentd", Namespace: "kube-system",
			OwnerReferences: []metav1.OwnerReference{{Kind: "DaemonSet", Name: "fluentd"}}},
		Spec: corev1.PodSpec{NodeName: "node-1"},
	}
	other := &corev1.Pod{ObjectMeta: metav1.ObjectMeta{Name: "elsewhere", Namespace: "prod"}, Spec: corev1.PodSpec{NodeName: "node-2"}}

	k, cs := newTestKube(node, web, ds, other)
	var evicted []string
	cs.PrependReactor("create", "pods", func(action k8stesting.Action) (bool, runtime.Object, error) {
		if action.GetSubresource() != "eviction" {
			return false, nil, nil
		}
		ev := action.(k8stesting.CreateAction).GetObject().(*policyv1.Eviction)
		evicted = append(evicted, ev.Namespace+"/"+ev.Name)
		return true, nil, nil
	})

	res := k.Workloads().Handle(context.Background(), "t1", domain.RemediationAction{Type: domain.ActionDrainNode, Target: "node-1"})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, []string{"prod/web"}, evicted)
	assert.Contains(t, res.Message, "1 pods evicted, 1 skipped")

	got, err := cs.CoreV1().Nodes().Get(context.Background(), "node-1", metav1.GetOptions{})
	require.NoError(t, err)
	assert.True(t, got.Spec.Unschedulable)
}

func TestKube_Rollback(t *testing.T) {
	dep := deployment("api", 3)
	k, _ := newTestKube(dep, replicaSet(dep, "1", "api:v1"), replicaSet(dep, "2", "api:v2"), replicaSet(dep, "3", "api:v3"))

	t.Run("previous revision", func(t *testing.T) {
		res := k.Rollback().Handle(context.Background(), "t1", domain.RemediationAction{Type: domain.ActionRollbackDeployment, Target: "api"})
		require.True(t, res.Success, res.Error)

		got := getDeployment(t, k, "api")
		assert.Equal(t, "api:v2", got.Spec.Template.Spec.Containers[0].Image)
		assert.NotContains(t, got.Spec.Template.Labels, podTemplateHashLabel)
		assert.Equal(t, "2026-03-01T12:00:00Z", got.Spec.Template.Annotations[restartedAtAnnotation])
	})

	t.Run("explicit revision", func(t *testing.T) {
		res := k.Rollback().Handle(context.Background(), "t1", domain.RemediationAction{
			Type: domain.ActionRollbackDeployment, Target: "prod/api", Parameters: map[string]any{"revision": float64(1)},
		})
		require.True(t, res.Success, res.Error)
		assert.Equal(t, "api:v1", getDeployment(t, k, "api").Spec.Template.Spec.Containers[0].Image)
	})

	t.Run("no previous revision", func(t *testing.T) {
		solo := deployment("solo", 1)
		k, _ := newTestKube(solo, replicaSet(solo, "1", "solo:v1"))
		res := k.Rollback().Handle(context.Background(), "t1", domain.RemediationAction{Type: domain.ActionRollbackDeployment, Target: "solo"})
		assert.False(t, res.Success)
		assert.Contains(t, res.Error, "no previous revision")
	})
}

func TestKube_ServiceRestart(t *testing.T) {
	k, _ := newTestKube(deployment("api", 2))

	res := k.ServiceRestart().Handle(context.Background(), "t1", domain.RemediationAction{Type: domain.ActionRestartService, Target: "prod/deployment/api"})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "2026-03-01T12:00:00Z", getDeployment(t, k, "api").Spec.Template.Annotations[restartedAtAnnotation])
}

func TestKube_Disabled(t *testing.T) {
	k := NewKube(nil, infra.RemediationConfig{}, zap.NewNop())
	for _, h := range []Handler{k.Workloads(), k.Rollback(), k.ServiceRestart()} {
		res := h.Handle(context.Background(), "t1", domain.RemediationAction{Type: domain.ActionScaleUp, Target: "api"})
		assert.False(t, res.Success)
		assert.Equal(t, ErrKubernetesDisabled.Error(), res.Error)
	}
}

func TestParseTarget(t *testing.T) {
	tests := []struct {
		target string
		params map[string]any
		want   resourceRef
	}{
		{"api", nil, resourceRef{"default", "api"}},
		{"prod/api", nil, resourceRef{"prod", "api"}},
		{"prod/deployment/api", nil, resourceRef{"prod", "api"}},
		{"api", map[string]any{"namespace": "stage"}, resourceRef{"stage", "api"}},
	}
	for _, tt := range tests {
		got, err := parseTarget(domain.RemediationAction{Target: tt.target, Parameters: tt.params}, "default")
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	_, err := parseTarget(domain.RemediationAction{Target: "  "}, "default")
	assert.Error(t, err)
}
