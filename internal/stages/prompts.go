package stages

// Preamble is prepended to every prompt. It fixes the defensive framing
// shared by all stages.
const Preamble = `You are part of an authorized, sandboxed adversary simulation used to train defenders.
Everything you produce is synthetic, high-level and non-actionable. Never include working exploit code,
real credentials, real people or real infrastructure. Answer with a single JSON value matching the
response schema and nothing else.`

const safetyCheckPrompt = `%s

Role: safety officer confirming the simulation's safety controls.
Operator consent status: %t

Produce the safety report:
- "authorized_only", "sandbox_required" and "no_exploit_code" are always true.
- "consent_recorded" is a freshly generated, unique, non-guessable consent identifier
  of at least 16 characters (for example "sim-consent-" followed by random hex).`

const personaPrompt = `%s

Role: intelligence analyst building a synthetic adversary persona.
Target description: %q

Keep every field high-level. "typical_sentence_length" is one of short, medium or long.
Pretext template ids must be unique.`

const campaignPrompt = `%s

Role: defensive campaign planner.
Adversary persona:
%s

Target description: %q
Aggressiveness: %s

Plan a campaign of 3 to 5 phases (for example reconnaissance, engagement, collection).
Phase ids must be unique and every phase lasts at least one day.`

const lurePrompt = `%s

Role: red-team content writer producing training phishing email templates.
Adversary persona:
%s

Campaign phase %q (%s) with objective %q
Language: %s
Aggressiveness: %s

Return exactly %d distinct templates under "templates". Template ids must be unique.
Every "body_plaintext" must contain the literal placeholder {{TOKEN}} where the tracking token goes.`

const smsLurePrompt = `%s

Role: red-team content writer producing training SMS lures.
Adversary persona:
%s

Campaign phase %q (%s) with objective %q
Language: %s
Aggressiveness: %s

Return exactly %d distinct, short SMS templates under "templates". Template ids must be unique.
Every "body_short" must contain the literal placeholder {{TOKEN}} where the tracking link goes.`

const honeydocPrompt = `%s

Role: deception engineer creating a benign honey document.
Adversary persona:
%s

Campaign phase %q with objective %q
This is decoy document %d of %d for the phase; make it distinct from the others.

"body_text" is a realistic but non-sensitive internal memo that contains the literal
placeholder {{TOKEN}} as a visible link.`

const detectionPrompt = `%s

Role: detection engineer writing high-level detection rules.
Campaign:
%s

Generated artifacts:
%s

Return at most %d rules under "rules". Rule ids must be unique. "mapped_artifacts" may only
contain ids that appear above: phase ids, phase names, template ids or honeydoc doc ids.
Keep detection logic high-level.`

const accessPrompt = `%s

Role: simulation engine replaying a SAFE post-access sequence in a sandbox.
Honeydoc: {"doc_id": %q, "title": %q}

Produce one log entry for an attacker opening this document. "doc_id" must be %q and
"timestamp" must be RFC 3339. "attack_steps" holds at least one illustrative, non-executable
command using placeholders such as <TARGET_IP>, each with the attacker intent and a MITRE ATT&CK
technique id.`

const aarPrompt = `%s

Role: incident analyst writing an executive after-action report.
Persona: %s
Campaign: %s
Artifacts: %s
Detection rules: %s
Simulation logs: %s

Rules for the report:
- "timeline" is built only from the simulation log timestamps, in chronological order,
  with at least one entry per log; times are RFC 3339.
- Every "what_worked" and "missed" entry starts with the id of an existing detection rule,
  followed by a short rationale.
- Recommendation priorities are P1, P2, P3 or P4.
- Avoid technical exploit detail.`
