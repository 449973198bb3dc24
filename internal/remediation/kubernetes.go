package remediation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/xela07ax/spaceai-agentops/internal/domain"
	"github.com/xela07ax/spaceai-agentops/internal/infra"
	"go.uber.org/zap"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	policyv1 "k8s.io/api/policy/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

const (
	revisionAnnotation    = "deployment.kubernetes.io/revision"
	restartedAtAnnotation = "kubectl.kubernetes.io/restartedAt"
	mirrorPodAnnotation   = "kubernetes.io/config.mirror"
	podTemplateHashLabel  = "pod-template-hash"
)

var ErrKubernetesDisabled = errors.New("kubernetes integration is not configured")

// NewKubeClient строит clientset: явный kubeconfig, иначе in-cluster.
func NewKubeClient(cfg infra.KubernetesConfig) (kubernetes.Interface, error) {
	var (
		restCfg *rest.Config
		err     error
	)
	if cfg.Kubeconfig == "" {
		restCfg, err = rest.InClusterConfig()
	} else {
		restCfg, err = clientcmd.NewNonInteractiveDeferredLoadingClientConfig(
			&clientcmd.ClientConfigLoadingRules{ExplicitPath: cfg.Kubeconfig},
			&clientcmd.ConfigOverrides{CurrentContext: cfg.Context},
		).ClientConfig()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to build kubernetes config: %w", err)
	}

	cs, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create clientset: %w", err)
	}
	return cs, nil
}

// Kube исполняет действия, требующие API Kubernetes.
// Нулевой clientset допустим: все действия завершаются ErrKubernetesDisabled.
type Kube struct {
	cs        kubernetes.Interface
	defaultNS string
	scaleStep int32
	now       func() time.Time
	logger    *zap.Logger
}

func NewKube(cs kubernetes.Interface, cfg infra.RemediationConfig, logger *zap.Logger) *Kube {
	ns := cfg.DefaultNamespace
	if ns == "" {
		ns = metav1.NamespaceDefault
	}
	step := cfg.ScaleStep
	if step <= 0 {
		step = 1
	}
	return &Kube{cs: cs, defaultNS: ns, scaleStep: step, now: time.Now, logger: logger.Named("kube")}
}

// Workloads: семейство restart_pod, drain_node, scale_up, scale_down.
func (k *Kube) Workloads() Handler {
	return HandlerFunc(func(ctx context.Context, _ string, a domain.RemediationAction) domain.ActionOutcome {
		if k.cs == nil {
			return domain.Failed(ErrKubernetesDisabled.Error())
		}
		switch a.Type {
		case domain.ActionRestartPod:
			return outcome(k.restartPod(ctx, a))
		case domain.ActionDrainNode:
			return outcome(k.drainNode(ctx, a))
		case domain.ActionScaleUp:
			return outcome(k.scale(ctx, a, +1))
		case domain.ActionScaleDown:
			return outcome(k.scale(ctx, a, -1))
		default:
			return domain.Failed(fmt.Sprintf("unknown action type: %s", a.Type))
		}
	})
}

// Rollback: откат деплоймента на предыдущую ревизию ReplicaSet.
func (k *Kube) Rollback() Handler {
	return HandlerFunc(func(ctx context.Context, _ string, a domain.RemediationAction) domain.ActionOutcome {
		if k.cs == nil {
			return domain.Failed(ErrKubernetesDisabled.Error())
		}
		return outcome(k.rollback(ctx, a))
	})
}

// ServiceRestart: rollout restart через аннотацию шаблона пода.
func (k *Kube) ServiceRestart() Handler {
	return HandlerFunc(func(ctx context.Context, _ string, a domain.RemediationAction) domain.ActionOutcome {
		if k.cs == nil {
			return domain.Failed(ErrKubernetesDisabled.Error())
		}
		return outcome(k.restartDeployment(ctx, a))
	})
}

func (k *Kube) restartPod(ctx context.Context, a domain.RemediationAction) (string, error) {
	ref, err := parseTarget(a, k.defaultNS)
	if err != nil {
		return "", err
	}
	if err := k.cs.CoreV1().Pods(ref.Namespace).Delete(ctx, ref.Name, metav1.DeleteOptions{}); err != nil {
		return "", fmt.Errorf("delete pod %s: %w", ref, err)
	}
	return fmt.Sprintf("Pod %s deleted, controller will recreate it", ref), nil
}

func (k *Kube) drainNode(ctx context.Context, a domain.RemediationAction) (string, error) {
	nodeName := a.Target
	if n, ok := a.Parameters["node"].(string); ok && n != "" {
		nodeName = n
	}
	if nodeName == "" {
		return "", fmt.Errorf("%s: empty target", a.Type)
	}

	// 1. Cordon
	node, err := k.cs.CoreV1().Nodes().Get(ctx, nodeName, metav1.GetOptions{})
	if err != nil {
		return "", fmt.Errorf("get node %s: %w", nodeName, err)
	}
	if !node.Spec.Unschedulable {
		node.Spec.Unschedulable = true
		if _, err := k.cs.CoreV1().Nodes().Update(ctx, node, metav1.UpdateOptions{}); err != nil {
			return "", fmt.Errorf("cordon node %s: %w", nodeName, err)
		}
	}

	// 2. Evict через policy/v1, DaemonSet и mirror-поды остаются на месте
	pods, err := k.cs.CoreV1().Pods(metav1.NamespaceAll).List(ctx, metav1.ListOptions{
		FieldSelector: "spec.nodeName=" + nodeName,
	})
	if err != nil {
		return "", fmt.Errorf("list pods on %s: %w", nodeName, err)
	}

	evicted, skipped := 0, 0
	var errs []error
	for i := range pods.Items {
		pod := &pods.Items[i]
		if pod.Spec.NodeName != nodeName {
			continue
		}
		if !evictable(pod) {
			skipped++
			continue
		}
		err := k.cs.CoreV1().Pods(pod.Namespace).EvictV1(ctx, &policyv1.Eviction{
			ObjectMeta: metav1.ObjectMeta{Name: pod.Name, Namespace: pod.Namespace},
		})
		if err != nil && !apierrors.IsNotFound(err) {
			errs = append(errs, fmt.Errorf("evict %s/%s: %w", pod.Namespace, pod.Name, err))
			continue
		}
		evicted++
	}
	if len(errs) > 0 {
		return "", fmt.Errorf("node %s cordoned, %d pods evicted: %w", nodeName, evicted, errors.Join(errs...))
	}

	k.logger.Info("node drained", zap.String("node", nodeName), zap.Int("evicted", evicted), zap.Int("skipped", skipped))
	return fmt.Sprintf("Node %s cordoned, %d pods evicted, %d skipped", nodeName, evicted, skipped), nil
}

func evictable(pod *corev1.Pod) bool {
	if _, mirror := pod.Annotations[mirrorPodAnnotation]; mirror {
		return false
	}
	if pod.Status.Phase == corev1.PodSucceeded || pod.Status.Phase == corev1.PodFailed {
		return false
	}
	for _, owner := range pod.OwnerReferences {
		if owner.Kind == "DaemonSet" {
			return false
		}
	}
	return true
}

// scale меняет spec.replicas деплоймента. direction: +1 или -1.
// parameters.replicas задает абсолютное значение, иначе шаг из конфига.
func (k *Kube) scale(ctx context.Context, a domain.RemediationAction, direction int32) (string, error) {
	ref, err := parseTarget(a, k.defaultNS)
	if err != nil {
		return "", err
	}

	deployments := k.cs.AppsV1().Deployments(ref.Namespace)
	dep, err := deployments.Get(ctx, ref.Name, metav1.GetOptions{})
	if err != nil {
		return "", fmt.Errorf("get deployment %s: %w", ref, err)
	}

	current := int32(1)
	if dep.Spec.Replicas != nil {
		current = *dep.Spec.Replicas
	}

	desired := current + direction*k.scaleStep
	if n, ok := intParam(a.Parameters, "replicas"); ok {
		desired = int32(n)
	}
	if direction > 0 && desired < current {
		return "", fmt.Errorf("scale_up of %s to %d would reduce replicas from %d", ref, desired, current)
	}
	if direction < 0 && desired > current {
		return "", fmt.Errorf("scale_down of %s to %d would increase replicas from %d", ref, desired, current)
	}
	if desired < 1 {
		desired = 1
	}
	if desired == current {
		return fmt.Sprintf("Deployment %s already at %d replicas", ref, current), nil
	}

	dep.Spec.Replicas = &desired
	if _, err := deployments.Update(ctx, dep, metav1.UpdateOptions{}); err != nil {
		return "", fmt.Errorf("scale deployment %s: %w", ref, err)
	}
	return fmt.Sprintf("Deployment %s scaled from %d to %d replicas", ref, current, desired), nil
}

func (k *Kube) restartDeployment(ctx context.Context, a domain.RemediationAction) (string, error) {
	ref, err := parseTarget(a, k.defaultNS)
	if err != nil {
		return "", err
	}

	deployments := k.cs.AppsV1().Deployments(ref.Namespace)
	dep, err := deployments.Get(ctx, ref.Name, metav1.GetOptions{})
	if err != nil {
		return "", fmt.Errorf("get deployment %s: %w", ref, err)
	}
	if dep.Spec.Template.Annotations == nil {
		dep.Spec.Template.Annotations = map[string]string{}
	}
	dep.Spec.Template.Annotations[restartedAtAnnotation] = k.now().UTC().Format(time.RFC3339)

	if _, err := deployments.Update(ctx, dep, metav1.UpdateOptions{}); err != nil {
		return "", fmt.Errorf("restart deployment %s: %w", ref, err)
	}
	return fmt.Sprintf("Service restart initiated for %s", ref), nil
}

// rollback копирует шаблон пода из предыдущей (или заданной parameters.revision)
// ревизии ReplicaSet, которой владеет деплоймент.
func (k *Kube) rollback(ctx context.Context, a domain.RemediationAction) (string, error) {
	ref, err := parseTarget(a, k.defaultNS)
	if err != nil {
		return "", err
	}

	deployments := k.cs.AppsV1().Deployments(ref.Namespace)
	dep, err := deployments.Get(ctx, ref.Name, metav1.GetOptions{})
	if err != nil {
		return "", fmt.Errorf("get deployment %s: %w", ref, err)
	}

	rsList, err := k.cs.AppsV1().ReplicaSets(ref.Namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return "", fmt.Errorf("list replicasets for %s: %w", ref, err)
	}

	owned := make([]*appsv1.ReplicaSet, 0, len(rsList.Items))
	for i := range rsList.Items {
		rs := &rsList.Items[i]
		if metav1.IsControlledBy(rs, dep) {
			owned = append(owned, rs)
		}
	}
	if len(owned) == 0 {
		return "", fmt.Errorf("no replicasets found for deployment %s", ref)
	}
	sort.Slice(owned, func(i, j int) bool { return revisionOf(owned[i]) < revisionOf(owned[j]) })

	var target *appsv1.ReplicaSet
	if rev, ok := intParam(a.Parameters, "revision"); ok {
		for _, rs := range owned {
			if revisionOf(rs) == rev {
				target = rs
				break
			}
		}
		if target == nil {
			return "", fmt.Errorf("revision %d of deployment %s not found", rev, ref)
		}
	} else {
		if len(owned) < 2 {
			return "", fmt.Errorf("no previous revision to roll back deployment %s", ref)
		}
		target = owned[len(owned)-2]
	}

	tmpl := target.Spec.Template.DeepCopy()
	delete(tmpl.Labels, podTemplateHashLabel)
	if tmpl.Annotations == nil {
		tmpl.Annotations = map[string]string{}
	}
	tmpl.Annotations[restartedAtAnnotation] = k.now().UTC().Format(time.RFC3339)
	dep.Spec.Template = *tmpl

	if _, err := deployments.Update(ctx, dep, metav1.UpdateOptions{}); err != nil {
		return "", fmt.Errorf("rollback deployment %s: %w", ref, err)
	}
	return fmt.Sprintf("Rollback of %s to revision %d initiated", ref, revisionOf(target)), nil
}

func revisionOf(rs *appsv1.ReplicaSet) int {
	n, _ := strconv.Atoi(rs.Annotations[revisionAnnotation])
	return n
}
