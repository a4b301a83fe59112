package orchestrator

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	resourcev1 "k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// K8sPort is the client-go-backed Port implementation. It is initialised
// with a two-step probe: in-cluster credentials first, then an external
// kubeconfig. If both fail, available is false and every operation returns
// an orchestrator-unavailable-flavoured error.
type K8sPort struct {
	clientset kubernetes.Interface
	available bool
	logger    *slog.Logger
}

// NewK8sPort probes for credentials and returns a Port. It never returns an
// error: failure to reach a cluster degrades the port rather than aborting
// startup, matching the reconciler's "sleep and retry" posture.
func NewK8sPort(kubeconfigPath string, logger *slog.Logger) *K8sPort {
	cfg, err := rest.InClusterConfig()
	if err == nil {
		logger.Info("orchestrator: using in-cluster credentials")
	} else {
		cfg, err = clientcmd.BuildConfigFromFlags("", kubeconfigPath)
		if err != nil {
			logger.Warn("orchestrator: no in-cluster or kubeconfig credentials, running degraded", "error", err)
			return &K8sPort{available: false, logger: logger}
		}
		logger.Info("orchestrator: using kubeconfig credentials", "path", kubeconfigPath)
	}

	cs, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		logger.Warn("orchestrator: building clientset failed, running degraded", "error", err)
		return &K8sPort{available: false, logger: logger}
	}

	return &K8sPort{clientset: cs, available: true, logger: logger}
}

// NewK8sPortFromClientset wraps an existing clientset (e.g. fake.NewSimpleClientset())
// as an always-available Port, for tests.
func NewK8sPortFromClientset(cs kubernetes.Interface, logger *slog.Logger) *K8sPort {
	return &K8sPort{clientset: cs, available: true, logger: logger}
}

func (p *K8sPort) Available() bool { return p.available }

func translateNotFound(err error) error {
	if err == nil {
		return nil
	}
	if apierrors.IsNotFound(err) {
		return ErrNotFound
	}
	return err
}

func (p *K8sPort) EnsureNamespace(ctx context.Context, name string) error {
	if !p.available {
		return fmt.Errorf("orchestrator unavailable")
	}
	_, err := p.clientset.CoreV1().Namespaces().Get(ctx, name, metav1.GetOptions{})
	if err == nil {
		return nil
	}
	if !apierrors.IsNotFound(err) {
		return err
	}
	ns := &corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: name}}
	_, err = p.clientset.CoreV1().Namespaces().Create(ctx, ns, metav1.CreateOptions{})
	return err
}

func (p *K8sPort) ReadResourceQuota(ctx context.Context, namespace, name string) (map[string]string, error) {
	if !p.available {
		return nil, fmt.Errorf("orchestrator unavailable")
	}
	rq, err := p.clientset.CoreV1().ResourceQuotas(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return nil, translateNotFound(err)
	}
	out := make(map[string]string, len(rq.Spec.Hard))
	for k, v := range rq.Spec.Hard {
		out[string(k)] = v.String()
	}
	return out, nil
}

func (p *K8sPort) ApplyResourceQuota(ctx context.Context, namespace, name string, hard map[string]string) error {
	if !p.available {
		return fmt.Errorf("orchestrator unavailable")
	}
	quantities := make(corev1.ResourceList, len(hard))
	for k, v := range hard {
		q, err := resourcev1.ParseQuantity(v)
		if err != nil {
			return fmt.Errorf("parsing quota quantity %s=%s: %w", k, v, err)
		}
		quantities[corev1.ResourceName(k)] = q
	}
	rq := &corev1.ResourceQuota{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: namespace},
		Spec:       corev1.ResourceQuotaSpec{Hard: quantities},
	}

	_, err := p.clientset.CoreV1().ResourceQuotas(namespace).Get(ctx, name, metav1.GetOptions{})
	switch {
	case apierrors.IsNotFound(err):
		_, err = p.clientset.CoreV1().ResourceQuotas(namespace).Create(ctx, rq, metav1.CreateOptions{})
	case err == nil:
		_, err = p.clientset.CoreV1().ResourceQuotas(namespace).Update(ctx, rq, metav1.UpdateOptions{})
	}
	return err
}

func (p *K8sPort) ReadLimitRange(ctx context.Context, namespace, name string) (map[string]string, error) {
	if !p.available {
		return nil, fmt.Errorf("orchestrator unavailable")
	}
	lr, err := p.clientset.CoreV1().LimitRanges(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return nil, translateNotFound(err)
	}
	if len(lr.Spec.Limits) == 0 {
		return map[string]string{}, nil
	}
	out := make(map[string]string, len(lr.Spec.Limits[0].Max))
	for k, v := range lr.Spec.Limits[0].Max {
		out[string(k)] = v.String()
	}
	return out, nil
}

func (p *K8sPort) ApplyLimitRange(ctx context.Context, namespace, name string, defaultReq, defaultLim, max map[string]string) error {
	if !p.available {
		return fmt.Errorf("orchestrator unavailable")
	}
	toList := func(m map[string]string) (corev1.ResourceList, error) {
		out := make(corev1.ResourceList, len(m))
		for k, v := range m {
			q, err := resourcev1.ParseQuantity(v)
			if err != nil {
				return nil, err
			}
			out[corev1.ResourceName(k)] = q
		}
		return out, nil
	}

	dflt, err := toList(defaultLim)
	if err != nil {
		return err
	}
	dfltReq, err := toList(defaultReq)
	if err != nil {
		return err
	}
	mx, err := toList(max)
	if err != nil {
		return err
	}

	lr := &corev1.LimitRange{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: namespace},
		Spec: corev1.LimitRangeSpec{
			Limits: []corev1.LimitRangeItem{{
				Type:           corev1.LimitTypeContainer,
				Default:        dflt,
				DefaultRequest: dfltReq,
				Max:            mx,
			}},
		},
	}

	_, err = p.clientset.CoreV1().LimitRanges(namespace).Get(ctx, name, metav1.GetOptions{})
	switch {
	case apierrors.IsNotFound(err):
		_, err = p.clientset.CoreV1().LimitRanges(namespace).Create(ctx, lr, metav1.CreateOptions{})
	case err == nil:
		_, err = p.clientset.CoreV1().LimitRanges(namespace).Update(ctx, lr, metav1.UpdateOptions{})
	}
	return err
}

func (p *K8sPort) EnsureVolumeClaim(ctx context.Context, namespace, name string, sizeGi int, storageClass string) error {
	if !p.available {
		return fmt.Errorf("orchestrator unavailable")
	}
	_, err := p.clientset.CoreV1().PersistentVolumeClaims(namespace).Get(ctx, name, metav1.GetOptions{})
	if err == nil {
		return nil
	}
	if !apierrors.IsNotFound(err) {
		return err
	}

	size, err := resourcev1.ParseQuantity(fmt.Sprintf("%dGi", sizeGi))
	if err != nil {
		return err
	}
	pvc := &corev1.PersistentVolumeClaim{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: namespace},
		Spec: corev1.PersistentVolumeClaimSpec{
			AccessModes: []corev1.PersistentVolumeAccessMode{corev1.ReadWriteOnce},
			Resources: corev1.VolumeResourceRequirements{
				Requests: corev1.ResourceList{corev1.ResourceStorage: size},
			},
		},
	}
	if storageClass != "" {
		pvc.Spec.StorageClassName = &storageClass
	}
	_, err = p.clientset.CoreV1().PersistentVolumeClaims(namespace).Create(ctx, pvc, metav1.CreateOptions{})
	return err
}

func (p *K8sPort) DefaultStorageClass(ctx context.Context) (string, error) {
	if !p.available {
		return "", fmt.Errorf("orchestrator unavailable")
	}
	list, err := p.clientset.StorageV1().StorageClasses().List(ctx, metav1.ListOptions{})
	if err != nil {
		return "", err
	}
	var first string
	for i, sc := range list.Items {
		if i == 0 {
			first = sc.Name
		}
		if sc.Annotations["storageclass.kubernetes.io/is-default-class"] == "true" {
			return sc.Name, nil
		}
	}
	return first, nil
}

func (p *K8sPort) CreateConfigBlob(ctx context.Context, namespace, name string, labels map[string]string, data map[string]string) error {
	if !p.available {
		return fmt.Errorf("orchestrator unavailable")
	}
	cm := &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: namespace, Labels: labels},
		Data:       data,
	}
	_, err := p.clientset.CoreV1().ConfigMaps(namespace).Create(ctx, cm, metav1.CreateOptions{})
	return err
}

func (p *K8sPort) DeleteConfigBlob(ctx context.Context, namespace, name string) error {
	if !p.available {
		return fmt.Errorf("orchestrator unavailable")
	}
	err := p.clientset.CoreV1().ConfigMaps(namespace).Delete(ctx, name, metav1.DeleteOptions{})
	return translateNotFound(err)
}

func (p *K8sPort) ListConfigBlobs(ctx context.Context, namespace string, labelSelector map[string]string) ([]ConfigBlob, error) {
	if !p.available {
		return nil, fmt.Errorf("orchestrator unavailable")
	}
	opts := metav1.ListOptions{}
	if len(labelSelector) > 0 {
		opts.LabelSelector = metav1.FormatLabelSelector(&metav1.LabelSelector{MatchLabels: labelSelector})
	}
	list, err := p.clientset.CoreV1().ConfigMaps(namespace).List(ctx, opts)
	if err != nil {
		return nil, err
	}
	out := make([]ConfigBlob, 0, len(list.Items))
	for _, cm := range list.Items {
		out = append(out, ConfigBlob{
			Name:      cm.Name,
			Namespace: cm.Namespace,
			Labels:    cm.Labels,
			Data:      cm.Data,
			Age:       time.Since(cm.CreationTimestamp.Time),
		})
	}
	return out, nil
}

func (p *K8sPort) ListNamespaces(ctx context.Context) ([]string, error) {
	if !p.available {
		return nil, fmt.Errorf("orchestrator unavailable")
	}
	list, err := p.clientset.CoreV1().Namespaces().List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(list.Items))
	for _, ns := range list.Items {
		if strings.HasPrefix(ns.Name, "kube-") {
			continue
		}
		out = append(out, ns.Name)
	}
	return out, nil
}

func (p *K8sPort) CreateWorkload(ctx context.Context, spec WorkloadSpec) error {
	if !p.available {
		return fmt.Errorf("orchestrator unavailable")
	}

	resources := corev1.ResourceRequirements{
		Requests: corev1.ResourceList{
			corev1.ResourceCPU:    resourcev1.MustParse(strconv.Itoa(spec.CPU)),
			corev1.ResourceMemory: resourcev1.MustParse(fmt.Sprintf("%dGi", spec.MemoryGi)),
		},
		Limits: corev1.ResourceList{
			corev1.ResourceCPU:    resourcev1.MustParse(strconv.Itoa(spec.CPU)),
			corev1.ResourceMemory: resourcev1.MustParse(fmt.Sprintf("%dGi", spec.MemoryGi)),
		},
	}

	var env []corev1.EnvVar
	for k, v := range spec.Env {
		env = append(env, corev1.EnvVar{Name: k, Value: v})
	}

	var volumes []corev1.Volume
	var mounts []corev1.VolumeMount
	for _, vm := range spec.Volumes {
		v := corev1.Volume{Name: vm.Name}
		switch {
		case vm.ConfigBlob != "":
			v.VolumeSource = corev1.VolumeSource{ConfigMap: &corev1.ConfigMapVolumeSource{
				LocalObjectReference: corev1.LocalObjectReference{Name: vm.ConfigBlob},
			}}
		case vm.VolumeClaim != "":
			v.VolumeSource = corev1.VolumeSource{PersistentVolumeClaim: &corev1.PersistentVolumeClaimVolumeSource{
				ClaimName: vm.VolumeClaim,
			}}
		}
		volumes = append(volumes, v)
		mounts = append(mounts, corev1.VolumeMount{Name: vm.Name, MountPath: vm.MountPath})
	}

	backoff := spec.BackoffLimit
	ttl := spec.TTLSecondsAfterFinish

	jobSpec := batchv1.JobSpec{
		BackoffLimit:            &backoff,
		TTLSecondsAfterFinished: &ttl,
		Template: corev1.PodTemplateSpec{
			ObjectMeta: metav1.ObjectMeta{Labels: spec.Labels},
			Spec: corev1.PodSpec{
				NodeSelector:  spec.NodeSelector,
				RestartPolicy: corev1.RestartPolicyNever,
				Containers: []corev1.Container{{
					Name:         "main",
					Image:        spec.Image,
					Command:      spec.Command,
					Args:         spec.Args,
					Env:          env,
					Resources:    resources,
					VolumeMounts: mounts,
					WorkingDir:   "/workspace",
				}},
				Volumes: volumes,
			},
		},
	}
	// Kubernetes rejects activeDeadlineSeconds <= 0, so only the main
	// simulation job (which always sets it) carries the field; the upload
	// and cleanup side-workloads leave it unset, matching storage.py.
	if spec.ActiveDeadlineSeconds > 0 {
		deadline := spec.ActiveDeadlineSeconds
		jobSpec.ActiveDeadlineSeconds = &deadline
	}

	job := &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{Name: spec.Name, Namespace: spec.Namespace, Labels: spec.Labels},
		Spec:       jobSpec,
	}

	_, err := p.clientset.BatchV1().Jobs(spec.Namespace).Create(ctx, job, metav1.CreateOptions{})
	return err
}

func (p *K8sPort) ReadWorkload(ctx context.Context, namespace, name string) (WorkloadStatus, error) {
	if !p.available {
		return WorkloadStatus{}, fmt.Errorf("orchestrator unavailable")
	}
	job, err := p.clientset.BatchV1().Jobs(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return WorkloadStatus{}, translateNotFound(err)
	}

	st := WorkloadStatus{
		Active:    job.Status.Active,
		Succeeded: job.Status.Succeeded,
		Failed:    job.Status.Failed,
	}
	if job.Status.StartTime != nil {
		t := job.Status.StartTime.Time
		st.StartTime = &t
	}
	for _, cond := range job.Status.Conditions {
		if cond.Type == batchv1.JobFailed && cond.Status == corev1.ConditionTrue {
			st.FailedCnd = true
		}
		if cond.Type == batchv1.JobComplete && cond.Status == corev1.ConditionTrue {
			st.Complete = true
		}
	}
	return st, nil
}

func (p *K8sPort) DeleteWorkload(ctx context.Context, namespace, name string) error {
	if !p.available {
		return fmt.Errorf("orchestrator unavailable")
	}
	err := p.clientset.BatchV1().Jobs(namespace).Delete(ctx, name, metav1.DeleteOptions{})
	return translateNotFound(err)
}

func (p *K8sPort) ListPodsByLabel(ctx context.Context, namespace, labelSelector string) ([]PodInfo, error) {
	if !p.available {
		return nil, fmt.Errorf("orchestrator unavailable")
	}
	list, err := p.clientset.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{LabelSelector: labelSelector})
	if err != nil {
		return nil, err
	}
	out := make([]PodInfo, 0, len(list.Items))
	for _, pod := range list.Items {
		out = append(out, PodInfo{Name: pod.Name, Phase: string(pod.Status.Phase)})
	}
	return out, nil
}

func (p *K8sPort) ReadPodLog(ctx context.Context, namespace, pod string, tailLines int64) (string, error) {
	if !p.available {
		return "", fmt.Errorf("orchestrator unavailable")
	}
	opts := &corev1.PodLogOptions{}
	if tailLines > 0 {
		opts.TailLines = &tailLines
	}
	req := p.clientset.CoreV1().Pods(namespace).GetLogs(pod, opts)
	body, err := req.DoRaw(ctx)
	if err != nil {
		return "", translateNotFound(err)
	}
	return string(body), nil
}

func (p *K8sPort) StreamPodLog(ctx context.Context, namespace, pod string) (io.ReadCloser, error) {
	if !p.available {
		return nil, fmt.Errorf("orchestrator unavailable")
	}
	follow := true
	req := p.clientset.CoreV1().Pods(namespace).GetLogs(pod, &corev1.PodLogOptions{Follow: follow})
	return req.Stream(ctx)
}

func (p *K8sPort) ListNodes(ctx context.Context) ([]NodeInfo, error) {
	if !p.available {
		return nil, fmt.Errorf("orchestrator unavailable")
	}
	nodes, err := p.clientset.CoreV1().Nodes().List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, err
	}
	out := make([]NodeInfo, 0, len(nodes.Items))
	for _, n := range nodes.Items {
		pods, err := p.clientset.CoreV1().Pods("").List(ctx, metav1.ListOptions{
			FieldSelector: "spec.nodeName=" + n.Name,
		})
		running := 0
		if err == nil {
			for _, pd := range pods.Items {
				if pd.Status.Phase == corev1.PodRunning {
					running++
				}
			}
		}

		var conds []string
		for _, c := range n.Status.Conditions {
			if c.Status == corev1.ConditionTrue {
				conds = append(conds, string(c.Type))
			}
		}

		out = append(out, NodeInfo{
			Name:        n.Name,
			Labels:      n.Labels,
			Hostname:    n.Labels["kubernetes.io/hostname"],
			Capacity:    quantityMap(n.Status.Capacity),
			Allocatable: quantityMap(n.Status.Allocatable),
			PodsRunning: running,
			Conditions:  conds,
		})
	}
	return out, nil
}

func (p *K8sPort) ClusterJobCounts(ctx context.Context) (total, active, succeeded int, err error) {
	if !p.available {
		return 0, 0, 0, fmt.Errorf("orchestrator unavailable")
	}
	list, err := p.clientset.BatchV1().Jobs("").List(ctx, metav1.ListOptions{})
	if err != nil {
		return 0, 0, 0, err
	}
	for _, j := range list.Items {
		total++
		if j.Status.Active > 0 {
			active++
		}
		if j.Status.Succeeded > 0 {
			succeeded++
		}
	}
	return total, active, succeeded, nil
}

func quantityMap(rl corev1.ResourceList) map[string]string {
	out := make(map[string]string, len(rl))
	for k, v := range rl {
		out[string(k)] = v.String()
	}
	return out
}
