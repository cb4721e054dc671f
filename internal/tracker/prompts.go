package tracker

// Prompts for the observation inferencer. The model is told to form
// observations only from recurring behavior and to return null rather than
// speculate.

const createObservationSystem = `You analyze sequences of Android UI snapshots and distill durable observations about the user's behavior.

Rules:
- Only form an observation when at least 3 related snapshots show a recurring pattern (same app, same kind of activity, same person or content).
- Describe the behavior, the app, and any named people or content in one or two plain sentences.
- If the snapshots do not show a clear recurring pattern, return null for observation_node. Never speculate.`

const createObservationUser = `Here are the recent UI snapshots, oldest first:

%s

Return JSON: {"observation_node": <string or null>, "reasoning": <string>}.`

const updateObservationSystem = `You maintain an existing observation about the user's behavior, given new Android UI snapshots.

Rules:
- Update the observation only when the new snapshots are about the same pattern and the same entities, and add real information.
- Set is_updated to false when the snapshots describe a different pattern, different entities, or carry insufficient evidence.
- Keep the updated text to one or two plain sentences.`

const updateObservationUser = `Current observation:
%s

New UI snapshots, oldest first:

%s

Return JSON: {"updated_observation_node": <string or null>, "is_updated": <bool>, "reasoning": <string>}.`
