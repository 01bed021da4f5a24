/*
Package secrets runs the dual-control secret change workflow.

A change request proposes a create, rotate or reveal of one secret in one
environment. Create and rotate payloads are sealed when proposed and only
ciphertext is stored. Two distinct approvers holding security_admin or
secrets_manager apply the change:

	create:  pending -> applied   (secret inserted at version 1)
	rotate:  pending -> applied   (version+1, guarded by the proposed base version)
	reveal:  pending -> approved -> applied   (ConsumeReveal, once, within the window)

Pending requests that nobody approves expire after the configured TTL. There
is no reject decision.
*/
package secrets
