// Package manager orchestrates deployments. It ties the model registry, the
// port allocator, the process launcher and the deployment registry together
// and is the only writer of deployment state. It is structured into small
// files by concern:
//
//   - manager.go: core Manager type, constructor, simple getters.
//   - config.go: ManagerConfig and package defaults; NewWithConfig applies defaults.
//   - types.go: reconcile state, Snapshot and ReconcileReport.
//   - errors.go: OpError, the error taxonomy helpers and StatusCode.
//   - deploy.go: Deploy (resolve, allocate, launch, await, register, notify).
//   - undeploy.go: Undeploy (terminate, delete, notify).
//   - reconcile.go: the one-shot boot-time reconciliation pass.
//   - status_report.go: Status/Snapshot reporting helpers.
//   - sanity.go: runtime binary checks.
//   - events.go, eventpub_memory.go: lifecycle events and publishers.
//   - metrics.go: Prometheus collectors.
//
// Deploy, Undeploy and Reconcile share one mutual-exclusion domain, so port
// allocation and registry writes never race. Readers (the proxy, GET
// /deployments) use the deployment registry's mirror and never take it.
package manager
